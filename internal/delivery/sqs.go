package delivery

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used for delivery.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type SQSSender struct {
	client SQSAPI
}

func NewSQSSender(client SQSAPI) *SQSSender {
	return &SQSSender{client: client}
}

func NewSQSClient(awsCfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func (s *SQSSender) Send(ctx context.Context, q Queue, msg *Message) (string, error) {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for k, a := range msg.Attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String(a.DataType),
			StringValue: aws.String(a.Value),
		}
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.Target),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	}
	if msg.GroupID != "" {
		input.MessageGroupId = aws.String(msg.GroupID)
	}
	if msg.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(msg.DeduplicationID)
	}

	out, err := s.client.SendMessage(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (s *SQSSender) Probe(ctx context.Context, q Queue) error {
	_, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.Target),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	return err
}

func (s *SQSSender) Close() error { return nil }
