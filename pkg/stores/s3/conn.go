package s3

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

/*
Conn wraps a minio client pointed at a single bucket.  It works
against any S3 compatible endpoint, which in practice means minio in
dev and AWS in production.
*/
type Conn struct {
	client *minio.Client
	bucket string
}

/*
NewConn builds a connection from viper config: `s3.endpoint`,
`s3.access_key`, `s3.secret_key`, `s3.bucket` and `s3.use_ssl`.
The bucket is created when it does not exist yet.
*/
func NewConn(ctx context.Context) (*Conn, error) {
	client, err := minio.New(viper.GetString("s3.endpoint"), &minio.Options{
		Creds: credentials.NewStaticV4(
			viper.GetString("s3.access_key"),
			viper.GetString("s3.secret_key"),
			"",
		),
		Secure: viper.GetBool("s3.use_ssl"),
	})

	if err != nil {
		return nil, err
	}

	conn := &Conn{
		client: client,
		bucket: viper.GetString("s3.bucket"),
	}

	if conn.bucket == "" {
		conn.bucket = "a2a"
	}

	exists, err := client.BucketExists(ctx, conn.bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		if err := client.MakeBucket(
			ctx, conn.bucket, minio.MakeBucketOptions{},
		); err != nil {
			return nil, err
		}
	}

	return conn, nil
}

/*
Get reads the object at key into a buffer.  A missing key is reported
as minio's NoSuchKey error response, which IsNotFound recognizes.
*/
func (conn *Conn) Get(ctx context.Context, key string) (*bytes.Buffer, error) {
	obj, err := conn.client.GetObject(ctx, conn.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	defer obj.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, err
	}

	return buf, nil
}

/*
Put writes body to the object at key.
*/
func (conn *Conn) Put(ctx context.Context, key string, body []byte) error {
	_, err := conn.client.PutObject(
		ctx, conn.bucket, key,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)

	return err
}

// IsNotFound reports whether err is the S3 missing-key error.
func IsNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
