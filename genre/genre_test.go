package genre

import "testing"

func TestLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{201, "ハイファンタジー〔ファンタジー〕"},
		{101, "異世界〔恋愛〕"},
		{9999, "その他〔その他〕"},
		{0, Unknown},
		{-1, Unknown},
		{500, Unknown},
	}

	for _, tt := range tests {
		if got := Label(tt.code); got != tt.want {
			t.Errorf("Label(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
