package session

import (
	"fmt"

	"storyboard-server/models"
)

type messages struct {
	preparing  string
	requesting func(batch int) string
	incomplete func(achieved, target int) string
}

var messagesByLanguage = map[models.Language]messages{
	models.LanguageEnglish: {
		preparing: "Preparing to generate scenes...",
		requesting: func(batch int) string {
			return fmt.Sprintf("Requesting scene batch #%d...", batch)
		},
		incomplete: func(achieved, target int) string {
			return fmt.Sprintf("Generation stopped. Only %d out of %d scenes were created. Would you like to try resuming?", achieved, target)
		},
	},
	models.LanguageVietnamese: {
		preparing: "Đang chuẩn bị tạo các cảnh...",
		requesting: func(batch int) string {
			return fmt.Sprintf("Đang yêu cầu lô cảnh #%d...", batch)
		},
		incomplete: func(achieved, target int) string {
			return fmt.Sprintf("Quá trình tạo đã dừng. Chỉ có %d trên %d cảnh được tạo. Bạn có muốn thử tiếp tục không?", achieved, target)
		},
	},
}

func messagesFor(lang models.Language) messages {
	if m, ok := messagesByLanguage[lang]; ok {
		return m
	}
	return messagesByLanguage[models.DefaultLanguage]
}

const noReferenceImage = "Selected character does not have a reference image."

func batchImageFailed(sceneID int) string {
	return fmt.Sprintf("Failed to generate image for Scene %d. Batch process stopped.", sceneID)
}
