// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package warehouse

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gofrs/uuid"
)

// S3Appender writes each batch as one newline-delimited JSON object
// under a date-partitioned key, ready for external table scans.
type S3Appender struct {
	svc    *s3.S3
	bucket string
}

func NewS3Appender(session *session.Session, stage string) (*S3Appender, error) {
	appender := &S3Appender{svc: s3.New(session)}
	appender.bucket = "gamehub-" + stage + "-events"
	return appender, nil
}

func (appender *S3Appender) Append(batch []Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return err
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	key := "events/" + time.Now().UTC().Format("2006/01/02") + "/" + id.String() + ".ndjson"

	req, _ := appender.svc.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(appender.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	return req.Send()
}
