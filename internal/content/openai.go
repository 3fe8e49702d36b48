package content

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// Client generates personalized iteration tasks through the OpenAI
// chat API.
type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  "gpt-4",
	}
}

func (c *Client) WithModel(model string) *Client {
	c.model = model
	return c
}

func (c *Client) IterationTask(ctx context.Context, sess *models.UserSession, seq int) (string, error) {
	total := 0
	if sess.Schedule != nil {
		total = sess.Schedule.TotalIterations
	}

	prompt := fmt.Sprintf(
		"Пользователь работает над целью: \"%s\".\n"+
			"Его фокус-утверждение: \"%s\".\n"+
			"Его эмоциональное состояние в начале: \"%s\".\n"+
			"Сейчас итерация %d из %d.\n\n"+
			"Придумай одну короткую конкретную задачу (1-2 предложения), "+
			"которую он может выполнить прямо сейчас, чтобы продвинуться к цели. "+
			"Обращайся на «ты», без приветствий и без нумерации.",
		sess.Goal, sess.Profile.FocusStatement, sess.Profile.EmotionalState,
		seq, total,
	)

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Ты опытный коуч по достижению целей. Твоя задача давать короткие конкретные задания, которые двигают человека к его цели маленькими шагами.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   300,
		Temperature: 0.7,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from GPT API")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
