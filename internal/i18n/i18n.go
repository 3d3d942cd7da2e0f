// Package i18n holds the user-facing strings in English and Chinese.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Key identifies a catalog message.
type Key string

const (
	Analyzing          Key = "analyzing"
	ImageDescription   Key = "image_description"
	DoubleTapToRetake  Key = "double_tap_to_retake"
	Speed              Key = "speed"
	Paused             Key = "paused"
	AnalysisFailed     Key = "analysis_failed"
	TakePhoto          Key = "take_photo"
	NextPhoto          Key = "next_photo"
	WaitingForPhoto    Key = "waiting_for_photo"
	AutoReadOn         Key = "auto_read_on"
	AutoReadOff        Key = "auto_read_off"
	Copied             Key = "copied"
	ScreenReaderActive Key = "screen_reader_active"
	Help               Key = "help"

	// Spoken guidance.
	TutorialWelcome   Key = "tutorial_welcome"
	TutorialTakePhoto Key = "tutorial_take_photo"
	TutorialAutoRead  Key = "tutorial_auto_read"
	TutorialSpeed     Key = "tutorial_speed"
	TutorialRetake    Key = "tutorial_retake"
	TutorialStep      Key = "tutorial_step"
	TutorialContinue  Key = "tutorial_continue"
	CameraReady       Key = "camera_ready"
	CameraWatching    Key = "camera_watching"
	CameraTaking      Key = "camera_taking"
	CameraCancelled   Key = "camera_cancelled"
	CameraFailed      Key = "camera_failed"
)

// TutorialSteps lists the tutorial pages in the order they are read.
var TutorialSteps = []Key{TutorialWelcome, TutorialTakePhoto, TutorialAutoRead, TutorialSpeed, TutorialRetake}

// Supported lists the catalog languages; the first is the fallback.
var Supported = []language.Tag{language.English, language.SimplifiedChinese}

var matcher = language.NewMatcher(Supported)

var catalog = map[language.Tag]map[Key]string{
	language.English: {
		Analyzing:          "Analyzing image...",
		ImageDescription:   "Image description",
		DoubleTapToRetake:  "Double tap to take another photo",
		Speed:              "Speed: %.1fx",
		Paused:             "Paused",
		AnalysisFailed:     "Sorry, I could not analyze this image. Please try again.",
		TakePhoto:          "Path to a photo",
		NextPhoto:          "Path to the next photo",
		WaitingForPhoto:    "Waiting for a new photo in %s",
		AutoReadOn:         "Auto-read on",
		AutoReadOff:        "Auto-read off",
		Copied:             "Description copied",
		ScreenReaderActive: "Screen reader active",
		Help:               "space: stop • double space: retake • ↑/↓: speed • 1-6: presets • a: auto-read • c: copy • q: quit",
		TutorialWelcome:    "Welcome to narrate. It describes your photos out loud. Press space to continue.",
		TutorialTakePhoto:  "To describe a photo, type or paste its path and press enter. In watch mode, just save the photo into the watched folder.",
		TutorialAutoRead:   "The description is read aloud as soon as it is ready. Press space to stop reading. Press a to turn automatic reading on or off.",
		TutorialSpeed:      "Press the up arrow to read faster and the down arrow to read slower. Keys 1 to 6 pick a preset speed.",
		TutorialRetake:     "Press space twice quickly to take another photo. That is all. Press space to start.",
		TutorialStep:       "Step %d of %d",
		TutorialContinue:   "Press space to continue",
		CameraReady:        "Ready. Type the path of a photo and press enter.",
		CameraWatching:     "Ready. Waiting for a new photo.",
		CameraTaking:       "Photo received. Analyzing.",
		CameraCancelled:    "Cancelled. Type the path of a photo and press enter.",
		CameraFailed:       "Could not open that photo. Please try again.",
	},
	language.SimplifiedChinese: {
		Analyzing:          "正在分析图片...",
		ImageDescription:   "图片描述",
		DoubleTapToRetake:  "双击重新拍照",
		Speed:              "语速：%.1fx",
		Paused:             "已暂停",
		AnalysisFailed:     "抱歉，无法分析这张图片，请重试。",
		TakePhoto:          "照片路径",
		NextPhoto:          "下一张照片的路径",
		WaitingForPhoto:    "正在等待 %s 中的新照片",
		AutoReadOn:         "自动朗读：开",
		AutoReadOff:        "自动朗读：关",
		Copied:             "描述已复制",
		ScreenReaderActive: "屏幕阅读器已开启",
		Help:               "空格：停止 • 双击空格：重新拍照 • ↑/↓：语速 • 1-6：预设 • a：自动朗读 • c：复制 • q：退出",
		TutorialWelcome:    "欢迎使用 narrate。它会把照片的内容读给你听。按空格键继续。",
		TutorialTakePhoto:  "输入或粘贴照片路径，然后按回车键，即可获得描述。在监视模式下，只需把照片保存到监视的文件夹。",
		TutorialAutoRead:   "描述准备好后会自动朗读。按空格键停止朗读。按 a 键开启或关闭自动朗读。",
		TutorialSpeed:      "按上方向键加快语速，按下方向键放慢语速。数字键 1 到 6 选择预设语速。",
		TutorialRetake:     "快速按两次空格键可以重新拍照。教程结束，按空格键开始。",
		TutorialStep:       "第 %d 步，共 %d 步",
		TutorialContinue:   "按空格键继续",
		CameraReady:        "准备就绪。请输入照片路径并按回车键。",
		CameraWatching:     "准备就绪。正在等待新照片。",
		CameraTaking:       "已收到照片，正在分析。",
		CameraCancelled:    "已取消。请输入照片路径并按回车键。",
		CameraFailed:       "无法打开这张照片，请重试。",
	},
}

func init() {
	for tag, msgs := range catalog {
		for k, v := range msgs {
			if err := message.SetString(tag, string(k), v); err != nil {
				panic(err)
			}
		}
	}
}

// Translator formats messages for one language.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a Translator for the closest supported match of lang, which
// may be a BCP 47 tag or a POSIX locale such as zh_CN.UTF-8.
func New(lang string) *Translator {
	tag := Match(lang)
	return &Translator{tag: tag, printer: message.NewPrinter(tag)}
}

// Match maps lang onto Supported.
func Match(lang string) language.Tag {
	lang = normalize(lang)
	if lang == "" {
		return Supported[0]
	}
	// Traditional Chinese locales read the Simplified catalog too.
	if strings.HasPrefix(strings.ToLower(lang), "zh") {
		return language.SimplifiedChinese
	}
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return Supported[0]
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Supported[0]
	}
	return Supported[idx]
}

// FromEnv returns the locale from LC_ALL, LC_MESSAGES or LANG.
func FromEnv() string {
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(k); v != "" && v != "C" && v != "POSIX" {
			return v
		}
	}
	return ""
}

// T formats the message for key.
func (t *Translator) T(key Key, args ...interface{}) string {
	return t.printer.Sprintf(string(key), args...)
}

// Tag returns the matched language.
func (t *Translator) Tag() language.Tag { return t.tag }

// Lang returns the base language code, "en" or "zh".
func (t *Translator) Lang() string {
	base, _ := t.tag.Base()
	return base.String()
}

// normalize turns POSIX locale names into BCP 47.
func normalize(lang string) string {
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	return strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
}
