package llm

import "testing"

func TestNewResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		reason  string
		want    string
	}{
		{"complete reply untouched", "Itt vagyok. Mit tehetek", FinishStop, "Itt vagyok. Mit tehetek"},
		{"capped reply loses its tail", "Itt vagyok, Michael. A turbó boost készen áll, de a", FinishLength, "Itt vagyok, Michael."},
		{"anthropic reason", "Rendben! Indítom a", "max_tokens", "Rendben!"},
		{"ends on a boundary", "Kész vagyok.  ", FinishLength, "Kész vagyok."},
		{"decimal is not a boundary", "A sebesség 3.5 mach és", FinishLength, "A sebesség 3.5 mach és"},
		{"ellipsis", "Hmm… talán a", FinishLength, "Hmm…"},
		{"no boundary kept whole", "Michael, a", FinishLength, "Michael, a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewResponse(tt.content, tt.reason, Usage{CompletionTokens: 150})
			if r.Content != tt.want {
				t.Errorf("Content = %q, want %q", r.Content, tt.want)
			}
			if r.FinishReason != tt.reason || r.Usage.CompletionTokens != 150 {
				t.Errorf("metadata = %+v", r)
			}
		})
	}
}

func TestTruncated(t *testing.T) {
	t.Parallel()

	for reason, want := range map[string]bool{"stop": false, "length": true, "max_tokens": true, "": false} {
		if got := (&CompletionResponse{FinishReason: reason}).Truncated(); got != want {
			t.Errorf("Truncated(%q) = %v, want %v", reason, got, want)
		}
	}
}
