package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Query
		wantErr bool
	}{
		{name: "css prefix", raw: "css:input[name*=zip]", want: CSS("input[name*=zip]")},
		{name: "text prefix", raw: "text:button|Akzeptieren", want: Text("button", "Akzeptieren")},
		{name: "xpath prefix", raw: "xpath://a[@href]", want: XPath("//a[@href]")},
		{name: "bare selector defaults to css", raw: "a:has(span)", want: CSS("a:has(span)")},
		{name: "uppercase kind", raw: "CSS:.entry", want: CSS(".entry")},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "empty expression", raw: "css:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseQuery(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func TestTextQueryXPath(t *testing.T) {
	t.Parallel()

	expr, err := Text("button", "Alle akzeptieren").XPathExpr()
	require.NoError(t, err)
	require.Equal(t,
		`//button[contains(translate(normalize-space(.), "ALLE AKZEPTIEREN", "alle akzeptieren"), "alle akzeptieren")]`,
		expr,
	)

	expr, err = Text("", `say "hi"`).XPathExpr()
	require.NoError(t, err)
	require.Contains(t, expr, "//*[")
	require.Contains(t, expr, `'say "hi"'`)

	_, err = CSS("a").XPathExpr()
	require.Error(t, err)
}

func TestScrollStateAtBottom(t *testing.T) {
	t.Parallel()

	require.False(t, ScrollState{Offset: 0, Viewport: 900, Height: 3000}.AtBottom())
	require.True(t, ScrollState{Offset: 2100, Viewport: 900, Height: 3000}.AtBottom())
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), 0))
}

func mustParse(t *testing.T, raw string) Query {
	t.Helper()
	q, err := ParseQuery(raw)
	require.NoError(t, err)
	return q
}
