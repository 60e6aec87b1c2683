// Package guard contains the stateless and stateful abuse checks that run
// before a callback request reaches the lifecycle engine.
package guard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callback_backend/platform/config"
	"callback_backend/platform/logger"
)

const captchaTimeout = 10 * time.Second

// CaptchaVerifier verifies Google reCAPTCHA tokens. Verification is
// fail-closed: any doubt (network error, malformed response, missing token)
// counts as a failure. When no secret is configured the verifier runs in a
// degraded mode that accepts every token, with a warning at startup.
type CaptchaVerifier struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
	log        *logger.Logger
}

// NewCaptchaVerifier creates a verifier from configuration.
func NewCaptchaVerifier(cfg config.CaptchaConfig, log *logger.Logger) *CaptchaVerifier {
	if !cfg.IsCaptchaEnabled() && log != nil {
		log.Warn("reCAPTCHA secret not configured, token verification disabled")
	}
	return &CaptchaVerifier{
		secret:     cfg.GetRecaptchaSecret(),
		verifyURL:  cfg.GetRecaptchaVerifyURL(),
		httpClient: &http.Client{Timeout: captchaTimeout},
		log:        log,
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks the token with the verification service. It never returns an
// error: a false result carries the decision, the reason is logged.
func (v *CaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) bool {
	if v.secret == "" {
		return true
	}

	if token == "" {
		if v.log != nil {
			v.log.CaptchaFailed(remoteIP, "token missing")
		}
		return false
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		if v.log != nil {
			v.log.CaptchaFailed(remoteIP, "build request: "+err.Error())
		}
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if v.log != nil {
			v.log.CaptchaFailed(remoteIP, "verification request failed: "+err.Error())
		}
		return false
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if v.log != nil {
			v.log.CaptchaFailed(remoteIP, "read response: "+err.Error())
		}
		return false
	}

	var result siteverifyResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		if v.log != nil {
			v.log.CaptchaFailed(remoteIP, "decode response: "+err.Error())
		}
		return false
	}

	if !result.Success {
		if v.log != nil {
			v.log.CaptchaFailed(remoteIP, strings.Join(result.ErrorCodes, ","))
		}
		return false
	}

	return true
}
