package render_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sendloop/campaign-dispatcher/internal/render"
)

func TestBuildContext_NameSplitAndFallbacks(t *testing.T) {
	ctx := render.BuildContext(map[string]string{"name": "Ada Lovelace"}, nil)
	assert.Equal(t, "Ada", ctx["first_name"])
	assert.Equal(t, "Lovelace", ctx["last_name"])
	assert.Equal(t, "your company", ctx["company"])
}

func TestBuildContext_CompanyFallsBackToProvider(t *testing.T) {
	ctx := render.BuildContext(map[string]string{"provider": "Acme Corp"}, nil)
	assert.Equal(t, "Acme Corp", ctx["company"])
}

func TestBuildContext_EmptyNameUsesThere(t *testing.T) {
	ctx := render.BuildContext(nil, nil)
	assert.Equal(t, "there", ctx["first_name"])
	assert.Equal(t, "there", ctx["name"])
}

func TestRender_MissingVariableRendersEmpty(t *testing.T) {
	ctx := render.BuildContext(map[string]string{"first_name": "Grace"}, nil)
	subject, body := render.Render("Hi {{first_name}}", "Body {{unknown_field}} end", ctx, "")
	assert.Equal(t, "Hi Grace", subject)
	assert.Equal(t, "Body  end", body)
}

func TestRender_SignatureAppendedWhenNotReferenced(t *testing.T) {
	ctx := render.BuildContext(nil, nil)
	_, body := render.Render("subj", "<p>hello</p>", ctx, "Best, Team")
	assert.Equal(t, "<p>hello</p><br>Best, Team", body)
}

func TestRender_SignatureNotDoubledWhenTemplateReferencesIt(t *testing.T) {
	ctx := render.BuildContext(nil, map[string]string{"account_signature": "Best, Team"})
	_, body := render.Render("subj", "<p>hello</p>{{account_signature}}", ctx, "Best, Team")
	assert.Equal(t, "<p>hello</p>Best, Team", body)
}
