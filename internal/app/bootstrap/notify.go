package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/pharma-scheduling/internal/config"
	"github.com/wolfman30/pharma-scheduling/internal/notify"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// BuildNotifier selects the delivery path from NOTIFY_PROVIDER. It returns the notifier and the
// provider actually in use.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.Notifier, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.NotifyProvider))
	switch provider {
	case "", "stub":
		return notify.NewEmailNotifier(notify.NewStubEmailSender(logger), logger), "stub", nil
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger)
		if sender == nil {
			return nil, provider, fmt.Errorf("bootstrap: NOTIFY_PROVIDER=sendgrid requires SENDGRID_API_KEY")
		}
		return notify.NewEmailNotifier(sender, logger), provider, nil
	case "ses":
		if awsCfg == nil {
			return nil, provider, fmt.Errorf("bootstrap: NOTIFY_PROVIDER=ses requires AWS configuration")
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail:        cfg.NotifyFromEmail,
			FromName:         cfg.NotifyFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger)
		return notify.NewEmailNotifier(sender, logger), provider, nil
	case "sqs":
		if awsCfg == nil || strings.TrimSpace(cfg.NotifyQueueURL) == "" {
			return nil, provider, fmt.Errorf("bootstrap: NOTIFY_PROVIDER=sqs requires AWS configuration and NOTIFY_QUEUE_URL")
		}
		return notify.NewQueueNotifier(sqs.NewFromConfig(*awsCfg), cfg.NotifyQueueURL, logger), provider, nil
	}
	return nil, provider, fmt.Errorf("bootstrap: unknown NOTIFY_PROVIDER %q", cfg.NotifyProvider)
}

// BuildScheduleStore keeps scheduled notifications in DynamoDB when a table is configured.
func BuildScheduleStore(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.ScheduleStore {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || awsCfg == nil || strings.TrimSpace(cfg.ScheduledNotificationTable) == "" {
		logger.Warn("SCHEDULED_NOTIFICATIONS_TABLE not set; reminders will not survive restarts")
		return notify.NewMemoryScheduleStore()
	}
	return notify.NewDynamoScheduleStore(dynamodb.NewFromConfig(*awsCfg), cfg.ScheduledNotificationTable, logger)
}
