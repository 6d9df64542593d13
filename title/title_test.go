package title

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "brackets stripped", in: "【新装版】ダンジョン飯「1」", want: "新装版ダンジョン飯1"},
		{name: "fullwidth folded", in: "ＳＡＯ　ソードアート・オンライン", want: "sao ソードアート・オンライン"},
		{name: "circled digit folded", in: "転生したらスライムだった件④", want: "転生したらスライムだった件4"},
		{name: "whitespace collapsed", in: "  本好きの  下剋上  ", want: "本好きの 下剋上"},
		{name: "case folded", in: "Re:ZERO Vol.3", want: "re:zero vol.3"},
		{name: "long vowel unified", in: "オーバーロ−ド", want: "オーバーロード"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"転生したらスライムだった件④",
		"【推しの子】 第3巻",
		"Ｒｅ：ゼロから始める異世界生活　２４",
		"薬屋のひとりごと（５）",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestExtractVolumeNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
		ok   bool
	}{
		{name: "kanji marker", in: "転生したらスライムだった件 第4巻", want: 4, ok: true},
		{name: "bare kanji", in: "ダンジョン飯 12巻", want: 12, ok: true},
		{name: "circled", in: "転生したらスライムだった件④", want: 4, ok: true},
		{name: "circled twenty", in: "ワンパンマン⑳", want: 20, ok: true},
		{name: "paren", in: "薬屋のひとりごと(5)", want: 5, ok: true},
		{name: "fullwidth paren", in: "薬屋のひとりごと（５）", want: 5, ok: true},
		{name: "vol dot", in: "Overlord vol.14", want: 14, ok: true},
		{name: "volume word", in: "Spice and Wolf Volume 3", want: 3, ok: true},
		{name: "fullwidth kanji digits", in: "本好きの下剋上 第３巻", want: 3, ok: true},
		{name: "no marker", in: "葬送のフリーレン", ok: false},
		{name: "empty", in: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractVolumeNumber(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ExtractVolumeNumber(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRewriteVolume(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		notation Notation
		want     string
	}{
		{name: "kanji to circled", in: "スライム倒して300年 第4巻", notation: NotationCircled, want: "スライム倒して300年④"},
		{name: "circled to kanji", in: "スライム倒して300年④", notation: NotationKanji, want: "スライム倒して300年 第4巻"},
		{name: "circled to paren", in: "スライム倒して300年④", notation: NotationParen, want: "スライム倒して300年(4)"},
		{name: "circled to arabic", in: "スライム倒して300年④", notation: NotationArabic, want: "スライム倒して300年 4"},
		{name: "no marker unchanged", in: "葬送のフリーレン", notation: NotationKanji, want: "葬送のフリーレン"},
		{name: "volume past circled range", in: "キングダム 第55巻", notation: NotationCircled, want: "キングダム 第55巻"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RewriteVolume(tt.in, tt.notation); got != tt.want {
				t.Fatalf("RewriteVolume(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVariants(t *testing.T) {
	got := Variants("転生したらスライムだった件④")

	want := map[string]bool{
		"転生したらスライムだった件④":    false,
		"転生したらスライムだった件 4":   false,
		"転生したらスライムだった件 第4巻": false,
		"転生したらスライムだった件(4)":  false,
		"転生したらスライムだった件4":    false,
		"転生したらスライムだった件":     false,
	}
	for _, v := range got {
		if _, ok := want[v]; ok {
			want[v] = true
		}
	}
	for v, seen := range want {
		if !seen {
			t.Errorf("Variants missing %q (got %q)", v, got)
		}
	}

	seen := make(map[string]struct{})
	for _, v := range got {
		if _, dup := seen[v]; dup {
			t.Fatalf("Variants returned duplicate %q", v)
		}
		seen[v] = struct{}{}
	}
}

func TestVariantsNoMarker(t *testing.T) {
	got := Variants("葬送のフリーレン")
	if len(got) != 1 || got[0] != "葬送のフリーレン" {
		t.Fatalf("Variants without marker = %q, want just the title", got)
	}
}

func TestIsMatch(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		candidate string
		want      bool
	}{
		{name: "exact", query: "葬送のフリーレン", candidate: "葬送のフリーレン", want: true},
		{name: "containment", query: "葬送のフリーレン", candidate: "葬送のフリーレン 1 (少年サンデーコミックス)", want: true},
		{name: "notation drift same volume", query: "転生したらスライムだった件④", candidate: "転生したらスライムだった件 第4巻", want: true},
		{name: "volume mismatch", query: "転生したらスライムだった件④", candidate: "転生したらスライムだった件 第5巻", want: false},
		{name: "subtitle noise", query: "ダンジョン飯 1巻", candidate: "ダンジョン飯 1巻 (ハルタコミックス)", want: true},
		{name: "different work", query: "葬送のフリーレン", candidate: "鬼滅の刃", want: false},
		{name: "empty query", query: "", candidate: "何か", want: false},
		{name: "empty candidate", query: "何か", candidate: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMatch(tt.query, tt.candidate, DefaultThreshold); got != tt.want {
				t.Fatalf("IsMatch(%q, %q) = %v, want %v", tt.query, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestIsMatchReflexive(t *testing.T) {
	titles := []string{
		"転生したらスライムだった件④",
		"Overlord vol.14",
		"薬屋のひとりごと（５）",
		"a",
	}
	for _, s := range titles {
		if !IsMatch(s, s, DefaultThreshold) {
			t.Fatalf("IsMatch(%q, %q) = false, want true", s, s)
		}
	}
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"葬送のフリーレン", "鬼滅の刃"},
		{"abc", "abc"},
		{"abc", ""},
		{"", ""},
	}
	for _, p := range pairs {
		sim := Similarity(p[0], p[1])
		if sim < 0 || sim > 1 {
			t.Fatalf("Similarity(%q, %q) = %v, out of [0,1]", p[0], p[1], sim)
		}
	}
}
