package s3blob

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
)

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", endpointURL("http://localhost:9000", true))
	assert.Equal(t, "https://e2.example.com", endpointURL("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "", normalisePrefix(""))
	assert.Equal(t, "mainnet/", normalisePrefix("/mainnet/"))

	b := &Bucket{prefix: normalisePrefix("mainnet")}
	assert.Equal(t, "mainnet/events/000001.jsonl", aws.ToString(b.key("/events/000001.jsonl")))
	assert.Equal(t, "events/x", aws.ToString((&Bucket{}).key("events/x")))
}
