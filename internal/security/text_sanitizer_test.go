package security

import "testing"

// TestSanitize_StripsMarkup はHTMLタグが除去されテキストだけが残ることを検証する。
func TestSanitize_StripsMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "プレーンテキストはそのまま",
			input: "Taro Yamada",
			want:  "Taro Yamada",
		},
		{
			name:  "scriptタグは中身ごと除去される",
			input: `Taro<script>alert("x")</script>`,
			want:  "Taro",
		},
		{
			name:  "装飾タグは除去され中身が残る",
			input: "<b>North</b> High",
			want:  "North High",
		},
		{
			name:  "イベント属性付きのimgは除去される",
			input: `<img src=x onerror=alert(1)>Coach`,
			want:  "Coach",
		},
		{
			name:  "アンパサンドはエスケープされずに残る",
			input: "Smith & Sons",
			want:  "Smith & Sons",
		},
		{
			name:  "前後と連続の空白が正規化される",
			input: "  West \t  Side\n",
			want:  "West Side",
		},
		{
			name:  "日本語はそのまま",
			input: "山田 太郎",
			want:  "山田 太郎",
		},
		{
			name:  "空文字列",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_Idempotent は同一入力に対して出力が安定することを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := `<p>Team <em>A</em> &amp; B</p>`
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(first)

	if first != second {
		t.Errorf("Sanitize is not idempotent: %q -> %q", first, second)
	}
}
