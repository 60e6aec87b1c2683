package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"sort"
)

// ValidateSignature checks the X-Twilio-Signature header value against the
// exact request URL and POST form parameters. The signature is the base64
// HMAC-SHA1 of the URL concatenated with every form key+value pair in
// lexicographic key order, keyed by the account auth token.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	if c.authToken == "" || signature == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(c.authToken))
	mac.Write([]byte(url))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params[k]))
	}

	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
