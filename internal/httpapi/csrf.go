package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// csrfWindow is the lifetime of one token stamp. A token is accepted during
// its own window and the next one.
const csrfWindow = time.Hour

// csrfSigner issues stateless tokens of the form "<stamp>.<mac>" where stamp
// counts windows since the epoch and mac is an HMAC-SHA256 of the stamp.
type csrfSigner struct {
	secret []byte
	now    func() time.Time
}

func newCSRFSigner() *csrfSigner {
	secret := make([]byte, 32)
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(secret)
	return &csrfSigner{secret: secret, now: time.Now}
}

func (c *csrfSigner) stamp() int64 {
	return c.now().Unix() / int64(csrfWindow/time.Second)
}

func (c *csrfSigner) mac(stamp int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(stamp))
	h := hmac.New(sha256.New, c.secret)
	h.Write(buf[:])
	return h.Sum(nil)
}

func (c *csrfSigner) issue() string {
	stamp := c.stamp()
	return strconv.FormatInt(stamp, 10) + "." + hex.EncodeToString(c.mac(stamp))
}

func (c *csrfSigner) verify(token string) bool {
	rawStamp, rawMAC, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return false
	}
	stamp, err := strconv.ParseInt(rawStamp, 10, 64)
	if err != nil {
		return false
	}
	if age := c.stamp() - stamp; age < 0 || age > 1 {
		return false
	}
	given, err := hex.DecodeString(rawMAC)
	if err != nil {
		return false
	}
	return hmac.Equal(given, c.mac(stamp))
}

// csrfExempt lists the mutating endpoints callable before a token exists.
var csrfExempt = map[string]bool{
	"/api/v1/auth/login": true,
}

// checkCSRF rejects a state-changing request without a valid X-CSRF-Token.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if csrfExempt[r.URL.Path] || a.csrf.verify(r.Header.Get("X-CSRF-Token")) {
		return true
	}
	writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
	return false
}
