package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// TelegramService sends notifications through the Telegram Bot API.
type TelegramService struct {
	botToken    string
	adminChatID string
	client      *http.Client
	log         *zap.Logger
}

func NewTelegramService(botToken, adminChatID string, log *zap.Logger) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to the specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("telegram bot token not configured, message dropped")
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(text string) error {
	if s.adminChatID == "" {
		s.log.Debug("telegram admin chat not configured, message dropped")
		return nil
	}
	return s.SendMessage(s.adminChatID, text)
}

// NotifyAdminPayment reports a completed payment to the admin chat.
func (s *TelegramService) NotifyAdminPayment(gateway, amount, currency, tier string) error {
	text := fmt.Sprintf(
		"💳 <b>New payment</b>\nGateway: %s\nAmount: %s %s\nPlan: %s",
		gateway, amount, currency, tier)
	return s.SendToAdmin(text)
}

// NotifySubscriptionUpgraded tells the user their plan was extended, in their
// own language.
func (s *TelegramService) NotifySubscriptionUpgraded(telegramID int64, language string) error {
	if telegramID == 0 {
		return nil
	}
	return s.SendMessage(strconv.FormatInt(telegramID, 10), subscriptionUpgradedText(language))
}

func subscriptionUpgradedText(language string) string {
	switch language {
	case "ru":
		return "🎉 <b>Поздравляем! Ваш план обновлен!</b>\n\n" +
			"Подписка продлена, все возможности снова доступны.\n" +
			"Спасибо, что выбираете нас!"
	case "en":
		return "🎉 <b>Congratulations! Your plan was upgraded!</b>\n\n" +
			"The subscription has been extended and every feature is available again.\n" +
			"Thank you for choosing us!"
	default:
		return "🎉 <b>Tabriklaymiz! Rejangiz yangilandi!</b>\n\n" +
			"Obuna uzaytirildi, barcha imkoniyatlar yana ochiq.\n" +
			"Bizni tanlaganingiz uchun rahmat!"
	}
}
