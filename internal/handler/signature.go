package handler

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sort"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Provider-Signature"

// ValidSignature checks the provider webhook signature: HMAC-SHA1 over
// the full public URL followed by the sorted form parameters
// (name concatenated with value), base64 encoded. The request body must
// already be parsed. An empty secret disables the check (local dev).
func ValidSignature(r *http.Request, baseURL, secret string) bool {
	if secret == "" {
		return true
	}

	payload := baseURL + r.URL.RequestURI()

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range r.PostForm[k] {
			payload += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	given := r.Header.Get(SignatureHeader)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}

// Sign computes the signature for a request the way the provider would.
// Used by tests and the seeder's webhook replay helper.
func Sign(secret, fullURL string, form map[string][]string) string {
	payload := fullURL
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			payload += k + v
		}
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
