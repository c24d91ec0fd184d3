package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/xerrors"
)

// SQSClient is the subset of the SQS API used by the channel.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type sqsService struct {
	Client     SQSClient
	QueueURL   string
	Visibility time.Duration
}

// NewSQSClient builds an SQS client from the default AWS credential chain.
// endpoint overrides the service endpoint (e.g. a local emulator) when set.
func NewSQSClient(ctx context.Context, region, endpoint string) (SQSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, xerrors.Errorf("loading aws config: %w", err)
	}

	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// MaxWaitSeconds is the longest long poll SQS accepts.
const MaxWaitSeconds = 20

// ceilSeconds rounds up to whole seconds. SQS takes no fractions, and a zero
// visibility timeout would hand the message to the next receiver at once.
func ceilSeconds(d time.Duration) int32 {
	return int32((d + time.Second - 1) / time.Second)
}

func NewSQS(client SQSClient, queueURL string, visibility time.Duration) IService {
	return &sqsService{
		Client:     client,
		QueueURL:   queueURL,
		Visibility: visibility,
	}
}

func (svc *sqsService) Send(ctx context.Context, body []byte) (string, error) {
	out, err := svc.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(svc.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", xerrors.Errorf("sqs send to %s: %w", svc.QueueURL, err)
	}
	return aws.ToString(out.MessageId), nil
}

func (svc *sqsService) Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(svc.QueueURL),
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     min(int32(wait/time.Second), MaxWaitSeconds),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}
	if svc.Visibility > 0 {
		input.VisibilityTimeout = ceilSeconds(svc.Visibility)
	}

	out, err := svc.Client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, xerrors.Errorf("sqs receive from %s: %w", svc.QueueURL, err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		if count < 1 {
			count = 1
		}
		deliveries = append(deliveries, Delivery{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}

	return deliveries, nil
}

func (svc *sqsService) Ack(ctx context.Context, d Delivery) error {
	_, err := svc.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(svc.QueueURL),
		ReceiptHandle: aws.String(d.ReceiptHandle),
	})
	if err != nil {
		var invalid *types.ReceiptHandleIsInvalid
		if xerrors.As(err, &invalid) {
			return xerrors.Errorf("message %s: %w", d.ID, ErrReceiptInvalid)
		}
		return xerrors.Errorf("sqs delete %s: %w", d.ID, err)
	}
	return nil
}
