package i18n

import (
	"testing"

	"golang.org/x/text/language"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		in   string
		want language.Tag
	}{
		{"", language.English},
		{"en-US", language.English},
		{"en_GB.UTF-8", language.English},
		{"zh", language.SimplifiedChinese},
		{"zh_CN.UTF-8", language.SimplifiedChinese},
		{"zh-TW", language.SimplifiedChinese},
		{"zh-Hant-HK", language.SimplifiedChinese},
		{"fr-FR", language.English},
		{"not a tag!", language.English},
	}
	for _, tt := range tests {
		if got := Match(tt.in); got != tt.want {
			t.Errorf("Match(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTranslate(t *testing.T) {
	en := New("en")
	if got := en.T(Speed, 1.5); got != "Speed: 1.5x" {
		t.Errorf("english speed = %q", got)
	}
	if en.Lang() != "en" {
		t.Errorf("Lang = %s", en.Lang())
	}

	zh := New("zh_CN.UTF-8")
	if got := zh.T(Paused); got != "已暂停" {
		t.Errorf("chinese paused = %q", got)
	}
	if got := zh.T(WaitingForPhoto, "/tmp/inbox"); got != "正在等待 /tmp/inbox 中的新照片" {
		t.Errorf("chinese waiting = %q", got)
	}
	if got := zh.T(TutorialStep, 2, len(TutorialSteps)); got != "第 2 步，共 5 步" {
		t.Errorf("chinese tutorial step = %q", got)
	}
	if zh.Lang() != "zh" {
		t.Errorf("Lang = %s", zh.Lang())
	}
}

func TestCatalogsComplete(t *testing.T) {
	for k := range catalog[language.English] {
		if _, ok := catalog[language.SimplifiedChinese][k]; !ok {
			t.Errorf("missing chinese text for %s", k)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "C")
	t.Setenv("LANG", "zh_CN.UTF-8")
	if got := FromEnv(); got != "zh_CN.UTF-8" {
		t.Errorf("FromEnv = %q", got)
	}
}
