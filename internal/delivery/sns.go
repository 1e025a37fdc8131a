package delivery

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// SNSSender fans a record out through a topic; Target is the topic ARN.
type SNSSender struct {
	client SNSAPI
}

func NewSNSSender(client SNSAPI) *SNSSender {
	return &SNSSender{client: client}
}

func NewSNSClient(awsCfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func (s *SNSSender) Send(ctx context.Context, q Queue, msg *Message) (string, error) {
	attrs := make(map[string]snstypes.MessageAttributeValue, len(msg.Attributes))
	for k, a := range msg.Attributes {
		attrs[k] = snstypes.MessageAttributeValue{
			DataType:    aws.String(a.DataType),
			StringValue: aws.String(a.Value),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(q.Target),
		Message:           aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	}
	if msg.GroupID != "" {
		input.MessageGroupId = aws.String(msg.GroupID)
	}
	if msg.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(msg.DeduplicationID)
	}

	out, err := s.client.Publish(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (s *SNSSender) Probe(ctx context.Context, q Queue) error {
	_, err := s.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{
		TopicArn: aws.String(q.Target),
	})
	return err
}

func (s *SNSSender) Close() error { return nil }
