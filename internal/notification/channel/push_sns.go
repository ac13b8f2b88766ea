package channel

import (
	"context"
	"errors"
	"fmt"

	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPushTransport publishes to a per-user topic that fans out to the
// user's registered devices.
type SNSPushTransport struct {
	client        SNSService
	topicTemplate string
	logger        logger.Logger
}

func NewSNSPushTransport(client SNSService, topicTemplate string, log logger.Logger) *SNSPushTransport {
	return &SNSPushTransport{client: client, topicTemplate: topicTemplate, logger: log.Component("push-sns")}
}

// Send publishes r. A missing topic or disabled endpoint means the user has
// no reachable device, which is not an error.
func (t *SNSPushTransport) Send(ctx context.Context, r *models.DeliveryRecord) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}

	_, err = t.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(fmt.Sprintf(t.topicTemplate, r.UserID)),
		Subject:  aws.String(truncate(r.Title, 100)),
		Message:  aws.String(string(data)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(string(r.EventType))},
			"priority":  {DataType: aws.String("String"), StringValue: aws.String(string(r.Priority))},
		},
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFoundException
	var disabled *types.EndpointDisabledException
	if errors.As(err, &notFound) || errors.As(err, &disabled) {
		t.logger.Debug("no reachable device", map[string]interface{}{"userId": r.UserID})
		return nil
	}
	return err
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
