package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/webplane/pkg/model"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
		input  map[string]model.Value
		check  func(*testing.T, *StarlarkResult)
	}{
		{
			name:   "simple arithmetic",
			script: "result = 2 + 2\n",
			check: func(t *testing.T, sr *StarlarkResult) {
				if !sr.Output["result"].Equal(model.Int(4)) {
					t.Errorf("Expected result=4, got %s", sr.Output["result"])
				}
			},
		},
		{
			name:   "input variables",
			script: "doubled = count * 2\n",
			input:  map[string]model.Value{"count": model.Int(5)},
			check: func(t *testing.T, sr *StarlarkResult) {
				assert.Equal(t, model.Int(10), sr.Output["doubled"])
			},
		},
		{
			name: "dicts and lists",
			script: `
names = [k for k in model]
upper = {k: model[k].upper() for k in model}
pair = (1, "a")
`,
			input: map[string]model.Value{"model": model.Object(map[string]model.Value{"scheme": model.String("http")})},
			check: func(t *testing.T, sr *StarlarkResult) {
				assert.Equal(t, model.StringList("scheme"), sr.Output["names"])
				assert.Equal(t, "HTTP", sr.Output["upper"].Get("scheme").Text())
				assert.Equal(t, 2, sr.Output["pair"].Len())
			},
		},
		{
			name: "struct and private globals",
			script: `
_hidden = 1
s = struct(port = 8443)
def helper():
    return None
nothing = helper()
`,
			check: func(t *testing.T, sr *StarlarkResult) {
				_, hidden := sr.Output["_hidden"]
				assert.False(t, hidden)
				_, fn := sr.Output["helper"]
				assert.False(t, fn)
				assert.Equal(t, model.Int(8443), sr.Output["s"].Get("port"))
				assert.True(t, sr.Output["nothing"].IsNull())
			},
		},
		{
			name:   "expressions stay expressions",
			script: `binding = "${web.binding:http}"`,
			check: func(t *testing.T, sr *StarlarkResult) {
				assert.True(t, sr.Output["binding"].IsExpression())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := evaluator.Evaluate(ctx, "test.star", tt.script, tt.input)
			require.NoError(t, err)
			tt.check(t, res)
		})
	}
}

func TestStarlarkEvaluator_Errors(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	_, err := evaluator.Evaluate(ctx, "syntax.star", "x = ", nil)
	assert.Error(t, err)

	_, err = evaluator.Evaluate(ctx, "fail.star", `fail("no port")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no port")

	_, err = evaluator.Evaluate(ctx, "keys.star", "d = {1: 2}", nil)
	assert.Error(t, err, "Expected non-string dict keys to be rejected")
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50*time.Millisecond, zerolog.Nop())
	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n
total = spin()
`
	_, err := evaluator.Evaluate(context.Background(), "spin.star", script, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timed out"), "got %v", err)
}
