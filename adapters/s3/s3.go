package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrUnsupportedContentType = errors.New("unsupported content type")

// PutObjectAPI 是 Operator 需要的 S3 操作
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientConfig 是連線到 S3 相容服務所需的設定
type ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewClient 建立 S3 客戶端，沒有提供金鑰時使用預設的憑證鏈
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	const op = "s3.NewClient"
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load aws config, err=%w", op, err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

type Operator struct {
	client         PutObjectAPI
	bucket         string
	prefix         string
	maxObjectSize  int64
	publicEndpoint *url.URL
}

type OperatorOption func(*Operator)

// WithPrefix 設定所有物件 key 的前綴
func WithPrefix(prefix string) OperatorOption {
	return func(o *Operator) {
		o.prefix = strings.Trim(prefix, "/")
	}
}

// WithMaxObjectSize 設定單一物件的大小上限
func WithMaxObjectSize(n int64) OperatorOption {
	return func(o *Operator) {
		o.maxObjectSize = n
	}
}

func NewOperator(client PutObjectAPI, bucket, publicBaseURL string, opts ...OperatorOption) (*Operator, error) {
	const op = "s3.NewOperator"
	if client == nil || bucket == "" {
		return nil, fmt.Errorf("[%s] client and bucket are required", op)
	}
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	o := &Operator{
		client:         client,
		bucket:         bucket,
		maxObjectSize:  1 << 20,
		publicEndpoint: publicEndpoint,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Upload 將 r 的內容寫到 name 加上對應副檔名的 key，回傳公開網址。
// 內容超過上限時回傳 *ReachLimitError。
func (o *Operator) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	const op = "s3.Operator.Upload"
	ext, ok := ExtensionOf(contentType)
	if !ok {
		return "", fmt.Errorf("[%s] %w: %s", op, ErrUnsupportedContentType, contentType)
	}
	body, err := io.ReadAll(NewMaxSizeReader(r, o.maxObjectSize))
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to read object body, err=%w", op, err)
	}

	key := path.Join(o.prefix, name+"."+ext)
	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload object to S3, err=%w", op, err)
	}

	uri := *o.publicEndpoint
	uri.Path = path.Join("/", uri.Path, o.bucket, key)
	return uri.String(), nil
}
