package util

import "strings"

// RenderTemplate does simple {var} replacement for per-channel content
// templates. Personalization beyond this lives with the campaign tooling.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
