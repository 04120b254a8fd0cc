package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error

	pathPages []*ssm.GetParametersByPathOutput
	pathErr   error
	pathCalls []*ssm.GetParametersByPathInput
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeAPI) GetParametersByPath(_ context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.pathCalls = append(f.pathCalls, in)
	if f.pathErr != nil {
		return nil, f.pathErr
	}
	page := f.pathPages[len(f.pathCalls)-1]
	return page, nil
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_HappyPath_SecureString(t *testing.T) {
	typeStr := "SecureString"
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`), Type: types.ParameterType(typeStr),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestGetParametersByPath_Paginates(t *testing.T) {
	api := &fakeAPI{pathPages: []*ssm.GetParametersByPathOutput{
		{
			Parameters: []types.Parameter{{Name: strPtr("/gh/config/llm/model"), Value: strPtr("gpt-4o-mini")}},
			NextToken:  strPtr("page-2"),
		},
		{
			Parameters: []types.Parameter{
				{Name: strPtr("/gh/config/timezone"), Value: strPtr("Asia/Seoul")},
				{Name: strPtr("/gh/config/broken"), Value: nil},
			},
		},
	}}
	client, err := New(api)
	require.NoError(t, err)

	got, err := client.GetParametersByPath(context.Background(), " /gh/config ")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"/gh/config/llm/model": "gpt-4o-mini",
		"/gh/config/timezone":  "Asia/Seoul",
	}, got)

	require.Len(t, api.pathCalls, 2)
	require.Equal(t, "/gh/config", *api.pathCalls[0].Path)
	require.True(t, *api.pathCalls[0].Recursive)
	require.True(t, *api.pathCalls[0].WithDecryption)
	require.Nil(t, api.pathCalls[0].NextToken)
	require.Equal(t, "page-2", *api.pathCalls[1].NextToken)
}

func TestGetParametersByPath_Errors(t *testing.T) {
	client, err := New(&fakeAPI{pathErr: errors.New("throttled")})
	require.NoError(t, err)

	_, err = client.GetParametersByPath(context.Background(), "/gh")
	require.ErrorContains(t, err, "throttled")
	_, err = client.GetParametersByPath(context.Background(), " ")
	require.ErrorContains(t, err, "required")
	_, err = (&Client{}).GetParametersByPath(context.Background(), "/gh")
	require.ErrorContains(t, err, "not initialized")
}

type fakeLister struct {
	params map[string]string
	err    error
}

func (f *fakeLister) GetParametersByPath(_ context.Context, _ string) (map[string]string, error) {
	return f.params, f.err
}

func TestProvider_Read(t *testing.T) {
	p := NewProvider(context.Background(), &fakeLister{params: map[string]string{
		"/gh/config/llm/model": "gpt-4o-mini",
		"/gh/config/HTTP/Addr": ":9000",
		"/gh/config/timezone":  "Asia/Seoul",
		"/gh/config":           "ignored",
	}}, "/gh/config/")

	got, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"llm":      map[string]any{"model": "gpt-4o-mini"},
		"http":     map[string]any{"addr": ":9000"},
		"timezone": "Asia/Seoul",
	}, got)

	_, err = p.ReadBytes()
	require.Error(t, err)
}

func TestProvider_ReadErrors(t *testing.T) {
	_, err := NewProvider(context.Background(), &fakeLister{err: errors.New("denied")}, "/gh").Read()
	require.ErrorContains(t, err, "denied")

	_, err = NewProvider(context.Background(), nil, "/gh").Read()
	require.Error(t, err)

	_, err = NewProvider(context.Background(), &fakeLister{}, "").Read()
	require.ErrorContains(t, err, "path")
}
