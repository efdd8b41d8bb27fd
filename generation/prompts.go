package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"storyboard-server/models"
)

// instructions 某一语言的系统指令
type instructions struct {
	storyIdea    func(style string) string
	script       func(cfg models.VideoConfig) string
	scenes       func(cfg models.VideoConfig, continuation bool) string
	characters   func(duration int) string
	dialogueOn   func(lang string) string
	dialogueOff  string
	voTagOn      func(lang string) string
	voTagOff     string
	continuation string
}

func instructionsFor(lang models.Language) instructions {
	if lang == models.LanguageEnglish {
		return english
	}
	return vietnamese
}

func sceneTags(cfg models.VideoConfig) string {
	if cfg.IncludeDialogue {
		return "[CAM] [SET] [CHAR] [ACTION] [PERF] [SND] [VO] [STYLE]"
	}
	return "[CAM] [SET] [CHAR] [ACTION] [PERF] [SND] [STYLE]"
}

func approxScenes(duration int) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", float64(duration)/models.SceneSeconds), "0"), ".")
}

const examplePrompt = `"[CAM] Close-up shot, eye-level angle. [SET] A wooden table in a sunlit cafe, steam rising from a coffee cup. [CHAR] [Character Name] is in frame. [ACTION] They lift the cup to their lips. [PERF] Smiling softly, a look of contentment in their eyes. [SND] Soft cafe ambiance, gentle clinking of porcelain. [VO] \"This is perfect.\" [STYLE] %s"`

var english = instructions{
	storyIdea: func(style string) string {
		return fmt.Sprintf(`You are a creative assistant. Generate a short, single-paragraph story idea suitable for a short video. The story should be interesting and visually compelling. The desired visual style is "%s". Keep the idea concise and focused. The language of the response must be the same as the user's prompt.`, style)
	},
	dialogueOn: func(lang string) string {
		return fmt.Sprintf(`Include dialogue for the characters in the specified language: %s. Format dialogue as "CHARACTER NAME: Dialogue text."`, lang)
	},
	dialogueOff: "Do not include any dialogue. The script should be for a video with only background music and visual storytelling.",
	voTagOn: func(lang string) string {
		return fmt.Sprintf("Voiceover or dialogue in the specified language (%s).", lang)
	},
	voTagOff:     "This tag should be OMITTED as dialogue is disabled.",
	continuation: "4. **Continuation Task:** You have already generated some scenes. Continue from where you left off, ensuring the new scene_ids and timestamps are sequential and correct. Do not repeat any scenes.",
	characters: func(duration int) string {
		return fmt.Sprintf(`You are a character designer. Analyze the provided script or story idea for a %d-second video.

**Instructions:**
1. Identify the key characters (maximum 3-4).
2. For each character, generate a concise but detailed description. This description will be used to generate a reference image.
3. The description MUST include visual details like:
    - Gender, approximate age.
    - Hair color and style.
    - Eye color.
    - Clothing style and colors.
    - Distinguishing features (e.g., glasses, a scarf, a unique tattoo).
    - Overall mood or personality (e.g., cheerful, mysterious, tired).

**Output Format:**
- You MUST output a single, valid JSON object.
- The JSON object must contain one key: "characters".
- The value of "characters" must be an array of objects, where each object has two keys: "name" (string) and "description" (string).
- Do not include any text, explanations, or markdown formatting before or after the JSON object.`, duration)
	},
}

var vietnamese = instructions{
	storyIdea: func(style string) string {
		return fmt.Sprintf(`Bạn là một trợ lý sáng tạo. Tạo một ý tưởng câu chuyện ngắn, trong một đoạn văn, phù hợp cho một video ngắn. Câu chuyện nên thú vị và hấp dẫn về mặt hình ảnh. Phong cách hình ảnh mong muốn là "%s". Giữ ý tưởng ngắn gọn và tập trung. Ngôn ngữ của phản hồi phải giống với ngôn ngữ của prompt của người dùng.`, style)
	},
	dialogueOn: func(lang string) string {
		return fmt.Sprintf(`Bao gồm hội thoại cho các nhân vật bằng ngôn ngữ được chỉ định: %s. Định dạng hội thoại là "TÊN NHÂN VẬT: Lời thoại."`, lang)
	},
	dialogueOff: "Không bao gồm bất kỳ lời thoại nào. Kịch bản nên dành cho một video chỉ có nhạc nền và kể chuyện bằng hình ảnh.",
	voTagOn: func(lang string) string {
		return fmt.Sprintf("Lời dẫn hoặc hội thoại bằng ngôn ngữ được chỉ định (%s).", lang)
	},
	voTagOff:     "Thẻ này nên được BỎ QUA vì hội thoại đã bị tắt.",
	continuation: "4. **Nhiệm vụ tiếp tục:** Bạn đã tạo một số cảnh. Hãy tiếp tục từ nơi bạn đã dừng lại, đảm bảo scene_id và dấu thời gian mới là tuần tự và chính xác. Không lặp lại bất kỳ cảnh nào.",
	characters: func(duration int) string {
		return fmt.Sprintf(`Bạn là một nhà thiết kế nhân vật. Phân tích kịch bản hoặc ý tưởng câu chuyện được cung cấp cho một video dài %d giây.

**Hướng dẫn:**
1. Xác định các nhân vật chính (tối đa 3-4).
2. Đối với mỗi nhân vật, tạo một mô tả ngắn gọn nhưng chi tiết. Mô tả này sẽ được sử dụng để tạo một hình ảnh tham chiếu.
3. Mô tả PHẢI bao gồm các chi tiết hình ảnh như:
    - Giới tính, tuổi tác gần đúng.
    - Màu tóc và kiểu tóc.
    - Màu mắt.
    - Phong cách và màu sắc quần áo.
    - Các đặc điểm phân biệt (ví dụ: kính, khăn quàng cổ, hình xăm độc đáo).
    - Tâm trạng hoặc tính cách chung (ví dụ: vui vẻ, bí ẩn, mệt mỏi).

**Định dạng đầu ra:**
- Bạn PHẢI xuất ra một đối tượng JSON hợp lệ duy nhất.
- Đối tượng JSON phải chứa một khóa: "characters".
- Giá trị của "characters" phải là một mảng các đối tượng, trong đó mỗi đối tượng có hai khóa: "name" (chuỗi) và "description" (chuỗi).
- Không bao gồm bất kỳ văn bản, giải thích hoặc định dạng markdown nào trước hoặc sau đối tượng JSON.`, duration)
	},
}

func init() {
	english.script = func(cfg models.VideoConfig) string {
		return fmt.Sprintf(`You are a scriptwriter. Based on the provided story idea, characters, and video configuration, write a complete script. The script should be suitable for a video of approximately %d seconds.
- The script must be detailed, describing actions, settings, and character emotions.
- %s
- Ensure the pacing fits the short video format.
- The tone should match the visual style: "%s".`, cfg.Duration, dialogueRule(english, cfg), cfg.Style)
	}
	english.scenes = func(cfg models.VideoConfig, continuation bool) string {
		return fmt.Sprintf(`You are a professional cinematographer and AI prompt engineer. Your task is to break down the provided script into a sequence of scenes for a video storyboard. Each scene should correspond to roughly 8 seconds of screen time. The total video duration is %[1]d seconds.

**CRITICAL INSTRUCTION: The visual style for EVERY scene must be: "%[2]s".**

**Output Structure for Each Scene Prompt:**
You MUST generate the 'prompt' string for each scene following this exact structure, including all tags in order:
"%[3]s"

**Tag Definitions:**
-   **[CAM]**: Detailed camera shot, angle, and movement (e.g., "Wide shot, low angle, camera slowly pushes in...").
-   **[SET]**: Description of the setting, environment, and cinematic lighting.
-   **[CHAR]**: Full description of any characters in the scene.
-   **[ACTION]**: The primary physical actions that drive the plot.
-   **[PERF]**: The character's performance: how they perform the action, their emotions, and expressions.
-   **[SND]**: The sound design, including ambient noise, sound effects, and emotional music cues.
-   **[VO]**: %[4]s
-   **[STYLE]**: The visual style. **You MUST use the following style for every scene: "%[2]s".**

**General Rules:**
1.  Generate approximately %[5]s scenes in total.
2.  Provide "scene_id" (sequential integer), "time" ("MM:SS" format), and "prompt" (string following the structure above).
3.  The entire prompt must be in English, except for the [VO] tag content if dialogue is enabled.
%[6]s

**Output Format:**
- You MUST output a single, valid JSON object containing one key: "scenes".
- The value of "scenes" must be an array of scene objects.
- Do not include any text, explanations, or markdown formatting before or after the JSON object.

**Example of a valid prompt string within the JSON:**
`+examplePrompt, cfg.Duration, cfg.Style, sceneTags(cfg), voRule(english, cfg), approxScenes(cfg.Duration), continuationRule(english, continuation), cfg.Style)
	}

	vietnamese.script = func(cfg models.VideoConfig) string {
		return fmt.Sprintf(`Bạn là một nhà biên kịch. Dựa trên ý tưởng câu chuyện, nhân vật và cấu hình video được cung cấp, hãy viết một kịch bản hoàn chỉnh. Kịch bản phải phù hợp với một video có thời lượng khoảng %d giây.
- Kịch bản phải chi tiết, mô tả hành động, bối cảnh và cảm xúc của nhân vật.
- %s
- Đảm bảo nhịp độ phù hợp với định dạng video ngắn.
- Giọng điệu phải phù hợp với phong cách hình ảnh: "%s".`, cfg.Duration, dialogueRule(vietnamese, cfg), cfg.Style)
	}
	vietnamese.scenes = func(cfg models.VideoConfig, continuation bool) string {
		return fmt.Sprintf(`Bạn là một nhà quay phim chuyên nghiệp và kỹ sư prompt AI. Nhiệm vụ của bạn là chia nhỏ kịch bản được cung cấp thành một chuỗi các cảnh cho một storyboard video. Mỗi cảnh nên tương ứng với khoảng 8 giây trên màn hình. Tổng thời lượng video là %[1]d giây.

**CHỈ THỊ QUAN TRỌNG: Phong cách hình ảnh cho MỌI cảnh phải là: "%[2]s".**

**Cấu trúc đầu ra cho mỗi Prompt cảnh:**
Bạn PHẢI tạo chuỗi 'prompt' cho mỗi cảnh theo đúng cấu trúc này, bao gồm tất cả các thẻ theo thứ tự:
"%[3]s"

**Định nghĩa các thẻ:**
-   **[CAM]**: Cảnh quay, góc máy và chuyển động chi tiết.
-   **[SET]**: Mô tả bối cảnh, môi trường và ánh sáng điện ảnh.
-   **[CHAR]**: Mô tả đầy đủ về bất kỳ nhân vật nào trong cảnh.
-   **[ACTION]**: Các hành động vật lý chính thúc đẩy cốt truyện.
-   **[PERF]**: Diễn xuất của nhân vật: cách họ thực hiện hành động, cảm xúc và biểu cảm của họ.
-   **[SND]**: Thiết kế âm thanh, bao gồm tiếng ồn xung quanh, hiệu ứng âm thanh và các tín hiệu âm nhạc cảm xúc.
-   **[VO]**: %[4]s
-   **[STYLE]**: Phong cách hình ảnh. **Bạn PHẢI sử dụng phong cách sau đây cho mọi cảnh: "%[2]s".**

**Quy tắc chung:**
1.  Tạo khoảng %[5]s cảnh tổng cộng.
2.  Cung cấp "scene_id" (số nguyên tuần tự), "time" (định dạng "MM:SS"), và "prompt" (chuỗi theo cấu trúc trên).
3.  Toàn bộ prompt phải bằng tiếng Anh, ngoại trừ nội dung thẻ [VO] nếu hội thoại được bật.
%[6]s

**Định dạng đầu ra:**
- Bạn PHẢI xuất ra một đối tượng JSON hợp lệ duy nhất chứa một khóa: "scenes".
- Giá trị của "scenes" phải là một mảng các đối tượng cảnh.
- Không bao gồm bất kỳ văn bản, giải thích hoặc định dạng markdown nào trước hoặc sau đối tượng JSON.

**Ví dụ về một chuỗi prompt hợp lệ trong JSON:**
`+examplePrompt, cfg.Duration, cfg.Style, sceneTags(cfg), voRule(vietnamese, cfg), approxScenes(cfg.Duration), continuationRule(vietnamese, continuation), cfg.Style)
	}
}

func dialogueRule(in instructions, cfg models.VideoConfig) string {
	if cfg.IncludeDialogue {
		return in.dialogueOn(cfg.DialogueLanguage)
	}
	return in.dialogueOff
}

func voRule(in instructions, cfg models.VideoConfig) string {
	if cfg.IncludeDialogue {
		return in.voTagOn(cfg.DialogueLanguage)
	}
	return in.voTagOff
}

func continuationRule(in instructions, continuation bool) string {
	if continuation {
		return in.continuation
	}
	return ""
}

func characterLines(chars []models.CharacterProfile) string {
	lines := make([]string, 0, len(chars))
	for _, c := range chars {
		lines = append(lines, fmt.Sprintf("- %s: %s", c.Name, c.Description))
	}
	return strings.Join(lines, "\n")
}

// continuationContextSize 续写时回传给模型的最近分镜数量
const continuationContextSize = 3

func scriptPrompt(storyIdea string, chars []models.CharacterProfile, cfg models.VideoConfig) string {
	return fmt.Sprintf(`**Story Idea / Synopsis:**
%s

**Main Characters:**
%s

**Video Style:** %s`, storyIdea, characterLines(chars), cfg.Style)
}

func scenePrompt(chars []models.CharacterProfile, script string, cfg models.VideoConfig, existing []models.Scene) string {
	var head string
	if len(existing) > 0 {
		last := models.MaxSceneID(existing)
		sorted := models.SortedScenes(existing)
		if len(sorted) > continuationContextSize {
			sorted = sorted[len(sorted)-continuationContextSize:]
		}
		sample := make([]models.Scene, len(sorted))
		for i, s := range sorted {
			sample[i] = models.Scene{SceneID: s.SceneID, Time: s.Time, Prompt: s.Prompt}
		}
		ctx, _ := json.Marshal(sample)
		head = fmt.Sprintf(`You have already generated %d scenes. Please continue generating the storyboard starting from scene number %d.

**Previously Generated Scenes (for context only, do not repeat them):**
%s`, last, last+1, ctx)
	} else {
		head = "Please generate the video scene prompts based on the following details."
	}
	return fmt.Sprintf(`%s

**Reference Characters:**
%s

**Full Script to be Visualized:**
%s

**Video Configuration:**
- Total Duration: %d seconds`, head, characterLines(chars), script, cfg.Duration)
}

func characterPrompt(scriptOrIdea string, duration int) string {
	return fmt.Sprintf(`Analyze the following script/story idea and generate the Character DNA for the key characters, keeping in mind the story is for a %d-second video.

**Script / Story Idea:**
%s`, duration, scriptOrIdea)
}

func characterImagePrompt(description string) string {
	return "Create a full-body, cinematic portrait of the following character. The background should be simple and neutral (e.g., grey or a soft gradient) and not distract from the character. Character details: " + description
}

func sceneImagePrompt(scenePrompt string) string {
	return "Using the provided reference image for character consistency, create a cinematic image for the following scene: " + scenePrompt
}
