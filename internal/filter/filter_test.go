package filter

import (
	"testing"

	"cdpnetmon/pkg/domain"

	"github.com/stretchr/testify/assert"
)

func rec(url string, mut ...func(*domain.RequestRecord)) domain.RequestRecord {
	r := domain.RequestRecord{
		ID:           "1",
		Method:       "GET",
		URL:          url,
		ResourceType: "XHR",
		Initiator:    domain.Initiator{Type: "script"},
		State:        domain.StateFinished,
	}
	for _, m := range mut {
		m(&r)
	}
	return r
}

func withStatus(s int) func(*domain.RequestRecord) {
	return func(r *domain.RequestRecord) { r.Status = &s }
}

func TestPasses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  domain.RequestRecord
		cfg  domain.FilterConfig
		want bool
	}{
		{"empty_config_passes", rec("https://x.io/"), domain.FilterConfig{}, true},
		{"url_terms_or", rec("https://b.com/api"), domain.FilterConfig{URLTerms: ParseTerms("a.com;b.com")}, true},
		{"url_terms_no_match", rec("https://c.com/api"), domain.FilterConfig{URLTerms: ParseTerms("a.com;b.com")}, false},
		{"url_terms_case_insensitive", rec("https://B.COM/x"), domain.FilterConfig{URLTerms: []string{"b.com"}}, true},
		{"blank_terms_pass", rec("https://c.com/"), domain.FilterConfig{URLTerms: []string{" ", ""}}, true},
		{"status_codes_match", rec("u", withStatus(404)), domain.FilterConfig{StatusCodes: ParseCodes("200, 404")}, true},
		{"status_codes_miss", rec("u", withStatus(500)), domain.FilterConfig{StatusCodes: ParseCodes("200,404")}, false},
		{"status_codes_no_response", rec("u"), domain.FilterConfig{StatusCodes: []string{"200"}}, false},
		{"method_disabled", rec("u"), domain.FilterConfig{Methods: map[string]bool{"GET": false}}, false},
		{"method_unknown_key_visible", rec("u"), domain.FilterConfig{Methods: map[string]bool{"POST": false}}, true},
		{"method_lowercase_record", rec("u", func(r *domain.RequestRecord) { r.Method = "get" }), domain.FilterConfig{Methods: map[string]bool{"GET": false}}, false},
		{"ping_hidden_by_default", rec("u", func(r *domain.RequestRecord) { r.ResourceType = TypePing }), domain.FilterConfig{}, false},
		{"ping_enabled", rec("u", func(r *domain.RequestRecord) { r.ResourceType = TypePing }), domain.FilterConfig{ResourceTypes: map[string]bool{TypePing: true}}, true},
		{"type_disabled", rec("u"), domain.FilterConfig{ResourceTypes: map[string]bool{"XHR": false}}, false},
		{"status_map_disabled", rec("u", withStatus(404)), domain.FilterConfig{Statuses: map[string]bool{"404": false}}, false},
		{"status_map_state_key", rec("u", func(r *domain.RequestRecord) { r.State = domain.StateFailed }), domain.FilterConfig{Statuses: map[string]bool{"failed": false}}, false},
		{"initiator_disabled", rec("u"), domain.FilterConfig{Initiators: map[string]bool{"script": false}}, false},
		{"initiator_empty_key_hidden", rec("u", func(r *domain.RequestRecord) { r.Initiator = domain.Initiator{} }), domain.FilterConfig{Initiators: map[string]bool{"": false}}, false},
		{"initiator_empty_not_other", rec("u", func(r *domain.RequestRecord) { r.Initiator = domain.Initiator{} }), domain.FilterConfig{Initiators: map[string]bool{"other": false}}, true},
		{"and_across_categories", rec("https://a.com", withStatus(200)), domain.FilterConfig{URLTerms: []string{"a.com"}, Methods: map[string]bool{"GET": true}, Statuses: map[string]bool{"200": false}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Passes(tt.rec, tt.cfg))
		})
	}
}

func TestPassesDeterministic(t *testing.T) {
	t.Parallel()

	r := rec("https://b.com/api", withStatus(200))
	cfg := domain.FilterConfig{URLTerms: []string{"b.com"}, Methods: map[string]bool{"GET": true}}
	first := Passes(r, cfg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Passes(r, cfg))
	}
	assert.Equal(t, []string{"b.com"}, cfg.URLTerms)
}

func TestApply(t *testing.T) {
	t.Parallel()

	recs := []domain.RequestRecord{
		rec("https://a.com/1"),
		rec("https://c.com/2"),
		rec("https://a.com/3"),
	}
	got := Apply(recs, domain.FilterConfig{URLTerms: []string{"a.com"}})
	if assert.Len(t, got, 2) {
		assert.Equal(t, "https://a.com/1", got[0].URL)
		assert.Equal(t, "https://a.com/3", got[1].URL)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a.com", "b.com"}, ParseTerms(" a.com ;b.com;"))
	assert.Equal(t, []string{"200", "404"}, ParseCodes("200,,404 "))
	assert.Nil(t, ParseTerms(""))
}
