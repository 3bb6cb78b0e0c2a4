package api

import (
	"errors"
	"net/http"
	"slices"
	"testing"
)

func statusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func TestResolveParams(t *testing.T) {
	body := "ASK {}"

	tests := []struct {
		name    string
		names   paramSpec
		sources []string
		direct  *string
		want    protocolParams
		wantErr string
	}{
		{
			name:    "query from url",
			names:   queryParams,
			sources: []string{"query=ASK+%7B%7D"},
			want:    protocolParams{Text: "ASK {}"},
		},
		{
			name:    "query from form body",
			names:   queryParams,
			sources: []string{"", "query=ASK%20%7B%7D"},
			want:    protocolParams{Text: "ASK {}"},
		},
		{
			name:    "query in url and body",
			names:   queryParams,
			sources: []string{"query=a", "query=b"},
			wantErr: "Multiple query parameters provided",
		},
		{
			name:    "direct body and url query",
			names:   queryParams,
			sources: []string{"query=a"},
			direct:  &body,
			wantErr: "Multiple query parameters provided",
		},
		{
			name:    "direct body",
			names:   queryParams,
			sources: []string{"default-graph-uri=http%3A%2F%2Fex%2Fg"},
			direct:  &body,
			want:    protocolParams{Text: "ASK {}", DefaultGraphs: []string{"http://ex/g"}},
		},
		{
			name:    "missing",
			names:   updateParams,
			sources: []string{"using-graph-uri=http://ex/g"},
			wantErr: "You should set the 'update' parameter",
		},
		{
			name:    "graph sets dedupe",
			names:   queryParams,
			sources: []string{"query=x&named-graph-uri=http://ex/a&named-graph-uri=http://ex/b", "named-graph-uri=http://ex/a"},
			want:    protocolParams{Text: "x", NamedGraphs: []string{"http://ex/a", "http://ex/b"}},
		},
		{
			name:    "union flag without value",
			names:   queryParams,
			sources: []string{"query=x&union-default-graph"},
			want:    protocolParams{Text: "x", Union: true},
		},
		{
			name:    "union with graphs",
			names:   updateParams,
			sources: []string{"update=x&using-union-graph=1&using-named-graph-uri=http://ex/a"},
			wantErr: "using-graph-uri or using-named-graph-uri and using-union-graph should not be set at the same time",
		},
		{
			name:    "relative graph iri",
			names:   queryParams,
			sources: []string{"query=x&default-graph-uri=relative"},
			wantErr: "Invalid graph IRI: 'relative'",
		},
		{
			name:    "malformed escapes kept",
			names:   queryParams,
			sources: []string{"query=100%25+%zz%4"},
			want:    protocolParams{Text: "100% %zz%4"},
		},
		{
			name:    "other keys ignored",
			names:   queryParams,
			sources: []string{"update=x&query=y&graph=z"},
			want:    protocolParams{Text: "y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveParams(tt.names, tt.sources, tt.direct)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr || statusOf(err) != http.StatusBadRequest {
					t.Fatalf("resolveParams() error = %v, want 400 %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveParams() error = %v", err)
			}
			if got.Text != tt.want.Text || got.Union != tt.want.Union ||
				!slices.Equal(got.DefaultGraphs, tt.want.DefaultGraphs) ||
				!slices.Equal(got.NamedGraphs, tt.want.NamedGraphs) {
				t.Errorf("resolveParams() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}
