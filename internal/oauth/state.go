package oauth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const defaultRedirect = "/"

type state struct {
	Redirect string `json:"redirect"`
}

// EncodeState packs the post-login redirect into the opaque state parameter.
func EncodeState(redirect string) string {
	b, _ := json.Marshal(state{Redirect: SafeRedirect(redirect)})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeState returns the redirect carried by s. A missing or malformed
// state yields the default redirect.
func DecodeState(s string) string {
	if s == "" {
		return defaultRedirect
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return defaultRedirect
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return defaultRedirect
	}
	return SafeRedirect(st.Redirect)
}

// SafeRedirect accepts only paths on the frontend's own origin.
func SafeRedirect(redirect string) string {
	if !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") || strings.ContainsAny(redirect, "\\\r\n") {
		return defaultRedirect
	}
	return redirect
}
