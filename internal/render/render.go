// Package render implements the pure template-substitution function the
// Worker calls to produce a (subject, body) pair. Grounded on the original
// templating.py's default-and-fallback context building, reimplemented
// without a templating engine dependency (teacher's campaign_handler.go
// does its own placeholder substitution with strings.ReplaceAll rather
// than reaching for a template library; this module follows that lead but
// drives it off the context map instead of a fixed field list so it stays
// total over arbitrary lead/sender fields).
package render

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// wellKnownDefaults seeds every render context so missing fields render as
// empty string rather than leaving the placeholder behind.
var wellKnownDefaults = []string{
	"first_name", "last_name", "name", "email", "company", "provider", "status",
	"account_signature", "sender_name", "sender_email", "sender_first_name", "sender_last_name",
	"business_name", "website", "phone", "address",
	"campaign_id", "step_order", "unsubscribe_link",
}

// BuildContext merges lead fields with derived sender/campaign fields and
// applies the friendly-default and name/company fallback rules described in
// the Renderer component spec.
func BuildContext(leadFields map[string]string, derived map[string]string) map[string]string {
	ctx := make(map[string]string, len(wellKnownDefaults)+len(leadFields)+len(derived))
	for _, k := range wellKnownDefaults {
		ctx[k] = ""
	}
	for k, v := range leadFields {
		ctx[k] = v
	}
	for k, v := range derived {
		ctx[k] = v
	}

	if ctx["name"] == "" && (ctx["first_name"] != "" || ctx["last_name"] != "") {
		ctx["name"] = strings.TrimSpace(ctx["first_name"] + " " + ctx["last_name"])
	}
	if ctx["first_name"] == "" && ctx["name"] != "" {
		parts := strings.SplitN(ctx["name"], " ", 2)
		ctx["first_name"] = parts[0]
		if len(parts) > 1 {
			ctx["last_name"] = parts[1]
		}
	}
	if ctx["company"] == "" && ctx["provider"] != "" {
		ctx["company"] = ctx["provider"]
	}

	if ctx["first_name"] == "" {
		ctx["first_name"] = "there"
	}
	if ctx["name"] == "" {
		ctx["name"] = "there"
	}
	if ctx["company"] == "" {
		ctx["company"] = "your company"
	}

	return ctx
}

// Substitute replaces every {{name}} placeholder in src with its value from
// ctx. Missing variables render as the empty string, never an error.
func Substitute(src string, ctx map[string]string) string {
	return placeholder.ReplaceAllStringFunc(src, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		return ctx[name]
	})
}

// Render produces the final (subject, body) pair. signature is appended to
// the body as "<br>" + signature unless bodySrc already references
// {{account_signature}} (in which case the caller's context substitution
// already placed it wherever the template author wanted).
func Render(subjectSrc, bodySrc string, ctx map[string]string, signature string) (subject, body string) {
	subject = Substitute(subjectSrc, ctx)
	body = Substitute(bodySrc, ctx)
	if signature != "" && !strings.Contains(bodySrc, "{{account_signature}}") {
		body += "<br>" + signature
	}
	return subject, body
}
