package jsonshape

import "testing"

func TestMineSize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"generate at 1080x1350 please", "1080x1350", true},
		{"1024X768", "1024x768", true},
		{"512×512 square", "512x512", true},
		{"800 * 600", "800x600", true},
		{"no size here", "", false},
		{"version 1.2x", "", false},
	}
	for _, tc := range cases {
		got, ok := MineSize(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("MineSize(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMineRatio(t *testing.T) {
	t.Run("reduces to lowest terms", func(t *testing.T) {
		got, ok := MineRatio("use 8:10 please")
		if !ok || got != "4:5" {
			t.Errorf("got %q ok=%v", got, ok)
		}
	})

	t.Run("prefers parenthesized ratio", func(t *testing.T) {
		got, ok := MineRatio("2:1 but actually (16:9)")
		if !ok || got != "16:9" {
			t.Errorf("got %q ok=%v", got, ok)
		}
	})

	t.Run("accepts fullwidth punctuation", func(t *testing.T) {
		got, ok := MineRatio("尺寸（4：5）")
		if !ok || got != "4:5" {
			t.Errorf("got %q ok=%v", got, ok)
		}
	})
}

func TestInfer(t *testing.T) {
	t.Run("pixel token with fullwidth paren ratio", func(t *testing.T) {
		info := Infer("1080x1350（4:5）")
		if info.Size != "1080x1350" {
			t.Errorf("size = %q", info.Size)
		}
		if info.Ratio != "4:5" {
			t.Errorf("ratio = %q", info.Ratio)
		}
		if info.FromRatio {
			t.Error("explicit pixel size must not be marked as derived")
		}
	})

	t.Run("ratio only maps through the table", func(t *testing.T) {
		info := Infer("4:5 比例")
		if info.Ratio != "4:5" {
			t.Errorf("ratio = %q", info.Ratio)
		}
		if info.Size != "1024x1280" || !info.FromRatio {
			t.Errorf("size = %q fromRatio=%v", info.Size, info.FromRatio)
		}
	})

	t.Run("pixel token alone derives reduced ratio", func(t *testing.T) {
		info := Infer("make it 1920x1080")
		if info.Ratio != "16:9" {
			t.Errorf("ratio = %q", info.Ratio)
		}
	})

	t.Run("unsupported ratio yields no size", func(t *testing.T) {
		info := Infer("weird 7:13 crop")
		if info.Size != "" || info.Ratio != "7:13" {
			t.Errorf("info = %+v", info)
		}
	})

	t.Run("no hints at all", func(t *testing.T) {
		info := Infer("a lovely sunset")
		if info.Size != "" || info.Ratio != "" {
			t.Errorf("info = %+v", info)
		}
	})
}
