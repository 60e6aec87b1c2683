package twilio

import "testing"

// Vector from the provider's request-validation documentation.
const (
	docsURL       = "https://mycompany.com/myapp.php?foo=1&bar=2"
	docsToken     = "12345"
	docsSignature = "0/KCTR6DLpKmkAf8muzZqo1nDgQ="
)

func docsParams() map[string]string {
	return map[string]string{
		"CallSid": "CA1234567890ABCDE",
		"Caller":  "+12349013030",
		"Digits":  "1234",
		"From":    "+12349013030",
		"To":      "+18005551212",
	}
}

func TestValidateSignature(t *testing.T) {
	c := &Client{authToken: docsToken}

	if !c.ValidateSignature(docsURL, docsParams(), docsSignature) {
		t.Fatal("documented signature vector should validate")
	}
}

func TestValidateSignatureRejectsTampering(t *testing.T) {
	c := &Client{authToken: docsToken}

	t.Run("modified url", func(t *testing.T) {
		if c.ValidateSignature(docsURL+"&x=1", docsParams(), docsSignature) {
			t.Error("modified URL should not validate")
		}
	})

	t.Run("modified param", func(t *testing.T) {
		params := docsParams()
		params["Digits"] = "9999"
		if c.ValidateSignature(docsURL, params, docsSignature) {
			t.Error("modified parameter should not validate")
		}
	})

	t.Run("added param", func(t *testing.T) {
		params := docsParams()
		params["Extra"] = "value"
		if c.ValidateSignature(docsURL, params, docsSignature) {
			t.Error("added parameter should not validate")
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		other := &Client{authToken: "54321"}
		if other.ValidateSignature(docsURL, docsParams(), docsSignature) {
			t.Error("wrong auth token should not validate")
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if c.ValidateSignature(docsURL, docsParams(), "") {
			t.Error("empty signature should not validate")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		blank := &Client{}
		if blank.ValidateSignature(docsURL, docsParams(), docsSignature) {
			t.Error("client without auth token should never validate")
		}
	})
}
