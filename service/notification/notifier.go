package notification

import (
	"encoding/json"
	"log"
	"time"

	"github.com/plumaapp/pluma-server/cmd/models"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gorm.io/gorm"
)

// Notifier delivers push notifications to a user's registered devices and
// records the outcome. Delivery is best-effort: failures are logged and
// stored in history, never surfaced to the triggering request.
type Notifier struct {
	db         *gorm.DB
	expoClient *expo.PushClient
}

func NewNotifier(db *gorm.DB) *Notifier {
	return &Notifier{
		db:         db,
		expoClient: expo.NewPushClient(nil),
	}
}

// PushToUser sends a notification to every device registered for userID.
func (n *Notifier) PushToUser(userID uint, title, body string, data map[string]interface{}) {
	var devices []models.Device
	if err := n.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		log.Printf("error loading devices for user %d: %v", userID, err)
		return
	}

	status := "skipped"
	if len(devices) > 0 {
		tokens := make([]expo.ExponentPushToken, 0, len(devices))
		for _, device := range devices {
			token, err := expo.NewExponentPushToken(device.Token)
			if err != nil {
				log.Printf("invalid push token for device %d: %v", device.ID, err)
				continue
			}
			tokens = append(tokens, token)
		}

		if len(tokens) > 0 {
			status = "sent"
			_, err := n.expoClient.Publish(&expo.PushMessage{
				To:       tokens,
				Title:    title,
				Body:     body,
				Data:     toStringMap(data),
				Sound:    "default",
				Priority: expo.DefaultPriority,
			})
			if err != nil {
				log.Printf("error sending push notification to user %d: %v", userID, err)
				status = "failed"
			}
		}
	}

	dataJSON, _ := json.Marshal(data)
	history := models.NotificationHistory{
		UserID: userID,
		Title:  title,
		Body:   body,
		Data:   string(dataJSON),
		Status: status,
		SentAt: time.Now(),
	}
	if err := n.db.Create(&history).Error; err != nil {
		log.Printf("error recording notification history: %v", err)
	}
}

func toStringMap(data map[string]interface{}) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, _ := json.Marshal(v)
		out[k] = string(b)
	}
	return out
}
