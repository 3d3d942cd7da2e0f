package describe

const (
	englishPrompt = "Please describe this image in detail for a blind person. " +
		"Focus on the main subjects, their positions, colors, and any important context. " +
		"Keep the description clear and concise, 200 words or less, avoid bullet points."

	chinesePrompt = "请详细描述这张图片，描述应适合视障人士理解。" +
		"只描述主要内容、位置、颜色和任何重要的环境信息、文字信息，只描述实施，不要扩展。" +
		"请保持描述清晰简洁，200字以内，不要使用Bullet Points。"
)

// Prompt returns the instruction sent with the image. Qwen is always asked in
// Chinese. OpenAI gets the English prompt plus the reply language.
func Prompt(provider, lang string) string {
	if provider == ProviderQwen {
		return chinesePrompt
	}
	if isChinese(lang) {
		return englishPrompt + " Please respond in Chinese."
	}
	return englishPrompt + " Please respond in English."
}
