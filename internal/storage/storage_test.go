package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadscore/internal/config"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(context.Background(), config.StorageConfig{Type: "local", LocalPath: dir})
	require.NoError(t, err)
	return s, dir
}

func report(kind string, finishedAfter time.Duration) *Report {
	return &Report{
		Kind:       kind,
		Trigger:    "worker",
		StartedAt:  base,
		FinishedAt: base.Add(finishedAfter),
		Scanned:    10,
		Affected:   4,
		Detail:     json.RawMessage(`{"points_taken":40}`),
	}
}

func TestSaveReport_Local(t *testing.T) {
	s, dir := newTestStorage(t)
	ctx := context.Background()

	r := report(KindDecay, time.Minute)
	require.NoError(t, s.SaveReport(ctx, r))
	require.NotEmpty(t, r.ID)

	data, err := os.ReadFile(filepath.Join(dir, "reports", KindDecay, r.ID+".json"))
	require.NoError(t, err)
	var onDisk Report
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 4, onDisk.Affected)
	assert.JSONEq(t, `{"points_taken":40}`, string(onDisk.Detail))
	assert.Equal(t, time.Minute, onDisk.Duration())
}

func TestSaveReport_RequiresKind(t *testing.T) {
	s, _ := newTestStorage(t)
	assert.Error(t, s.SaveReport(context.Background(), &Report{}))
}

func TestListReports_NewestFirst(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveReport(ctx, report(KindDecay, time.Minute)))
	require.NoError(t, s.SaveReport(ctx, report(KindSync, 3*time.Minute)))
	require.NoError(t, s.SaveReport(ctx, report(KindDecay, 2*time.Minute)))

	decay, err := s.ListReports(ctx, KindDecay, 10)
	require.NoError(t, err)
	require.Len(t, decay, 2)
	assert.True(t, decay[0].FinishedAt.After(decay[1].FinishedAt))

	all, err := s.ListReports(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, KindSync, all[0].Kind)
}

func TestNew_ReloadsFromDisk(t *testing.T) {
	s, dir := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.SaveReport(ctx, report(KindSync, time.Minute)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reports", KindSync, "broken.json"), []byte("{"), 0644))

	reopened, err := New(ctx, config.StorageConfig{Type: "local", LocalPath: dir})
	require.NoError(t, err)
	got, err := reopened.ListReports(ctx, KindSync, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Scanned)
}

func TestNew_MemoryOnly(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	require.NoError(t, s.SaveReport(context.Background(), report(KindDecay, time.Minute)))

	got, err := s.ListReports(context.Background(), KindDecay, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = New(context.Background(), config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestCache_Bounded(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	for i := 0; i < maxCachedReports+5; i++ {
		require.NoError(t, s.SaveReport(context.Background(), report(KindDecay, time.Duration(i)*time.Second)))
	}
	assert.Len(t, s.reports[KindDecay], maxCachedReports)
	assert.Equal(t, base.Add(5*time.Second), s.reports[KindDecay][0].FinishedAt)
}

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

type fakeDynamo struct {
	items []map[string]types.AttributeValue
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for _, it := range f.items {
		if it["PK"].(*types.AttributeValueMemberS).Value == pk {
			out = append(out, it)
		}
	}
	sk := func(i int) string { return out[i]["SK"].(*types.AttributeValueMemberS).Value }
	sort.Slice(out, func(i, j int) bool {
		if aws.ToBool(in.ScanIndexForward) {
			return sk(i) < sk(j)
		}
		return sk(i) > sk(j)
	})
	if n := int(aws.ToInt32(in.Limit)); n > 0 && len(out) > n {
		out = out[:n]
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func newTestAWS() (*AWSStorage, *fakeS3, *fakeDynamo) {
	fs := &fakeS3{objects: map[string][]byte{}}
	fd := &fakeDynamo{}
	return &AWSStorage{dynamoDB: fd, s3Client: fs, tableName: "leadscore", bucket: "reports"}, fs, fd
}

func TestAWSStorage_SaveAndList(t *testing.T) {
	a, fs, fd := newTestAWS()
	s := &Storage{config: config.StorageConfig{Type: "aws"}, aws: a, reports: map[string][]Report{}}
	ctx := context.Background()

	first := report(KindDecay, time.Minute)
	first.ID = "r1"
	second := report(KindDecay, 2*time.Minute)
	second.ID = "r2"
	require.NoError(t, s.SaveReport(ctx, first))
	require.NoError(t, s.SaveReport(ctx, second))
	require.NoError(t, s.SaveReport(ctx, report(KindSync, time.Minute)))

	assert.Contains(t, fs.objects, "reports/decay/2024/06/01/r1.json")
	assert.Len(t, fd.items, 3)

	got, err := s.ListReports(ctx, KindDecay, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID)
	assert.Equal(t, 4, got[0].Affected)
	assert.True(t, got[0].FinishedAt.Equal(second.FinishedAt))

	full, err := a.GetReport(ctx, "reports/decay/2024/06/01/r1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"points_taken":40}`, string(full.Detail))
}

func TestAWSStorage_PutFailure(t *testing.T) {
	a, fs, fd := newTestAWS()
	fs.putErr = errors.New("access denied")
	s := &Storage{config: config.StorageConfig{Type: "aws"}, aws: a, reports: map[string][]Report{}}

	err := s.SaveReport(context.Background(), report(KindDecay, time.Minute))
	assert.Error(t, err)
	assert.Empty(t, fd.items)
	assert.Empty(t, s.reports)
}
