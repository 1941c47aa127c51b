package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const reportTTL = 90 * 24 * time.Hour

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// AWSStorage writes full reports to S3 and a summary index to DynamoDB.
type AWSStorage struct {
	dynamoDB  dynamoAPI
	s3Client  s3API
	tableName string
	bucket    string
}

// reportItem is the DynamoDB index row for a report. SK sorts by finish
// time within a kind.
type reportItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	S3Key     string `dynamodbav:"S3Key"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
	Report
}

// NewAWSStorage creates a new AWS storage instance
func NewAWSStorage(ctx context.Context, tableName, bucket, region, profile string) (*AWSStorage, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &AWSStorage{
		dynamoDB:  dynamodb.NewFromConfig(cfg),
		s3Client:  s3.NewFromConfig(cfg),
		tableName: tableName,
		bucket:    bucket,
	}, nil
}

func reportKey(r *Report) string {
	return fmt.Sprintf("reports/%s/%s/%s.json", r.Kind, r.FinishedAt.UTC().Format("2006/01/02"), r.ID)
}

// SaveReport uploads the report body and then indexes it.
func (s *AWSStorage) SaveReport(ctx context.Context, r *Report) error {
	key := reportKey(r)
	if err := s.SaveToS3(ctx, key, r); err != nil {
		return err
	}

	item := reportItem{
		PK:     "REPORT#" + r.Kind,
		SK:     r.FinishedAt.UTC().Format(time.RFC3339Nano) + "#" + r.ID,
		S3Key:  key,
		TTL:    r.FinishedAt.Add(reportTTL).Unix(),
		Report: *r,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

// ListReports queries the index newest first. Detail is not loaded; use
// GetReport for the full body.
func (s *AWSStorage) ListReports(ctx context.Context, kind string, limit int) ([]Report, error) {
	result, err := s.dynamoDB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "REPORT#" + kind},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("querying reports from DynamoDB: %w", err)
	}

	var items []reportItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling reports: %w", err)
	}
	out := make([]Report, 0, len(items))
	for _, it := range items {
		out = append(out, it.Report)
	}
	return out, nil
}

// GetReport loads a full report body from S3.
func (s *AWSStorage) GetReport(ctx context.Context, key string) (*Report, error) {
	var r Report
	if err := s.GetFromS3(ctx, key, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveToS3 saves data to S3
func (s *AWSStorage) SaveToS3(ctx context.Context, key string, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling data: %w", err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

// GetFromS3 retrieves data from S3
func (s *AWSStorage) GetFromS3(ctx context.Context, key string, target any) error {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("getting object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("reading S3 object body: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshaling S3 data: %w", err)
	}
	return nil
}
