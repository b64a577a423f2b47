package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophupload/internal/api"
	"github.com/dmitrijs2005/gophupload/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenSource mints a new access token.
type TokenSource func() (string, error)

// uploadAPI is the subset of api.UploadServiceClient used here.
type uploadAPI interface {
	Ping(ctx context.Context, in *api.PingRequest, opts ...grpc.CallOption) (*api.PingResponse, error)
	CreateTask(ctx context.Context, in *api.CreateTaskRequest, opts ...grpc.CallOption) (*api.Task, error)
	GetTask(ctx context.Context, in *api.TaskRequest, opts ...grpc.CallOption) (*api.Task, error)
	ListTasks(ctx context.Context, in *api.ListTasksRequest, opts ...grpc.CallOption) (*api.ListTasksResponse, error)
	ListFiles(ctx context.Context, in *api.TaskRequest, opts ...grpc.CallOption) (*api.ListFilesResponse, error)
	CheckDuplicates(ctx context.Context, in *api.CheckDuplicatesRequest, opts ...grpc.CallOption) (*api.CheckDuplicatesResponse, error)
	GetProgress(ctx context.Context, in *api.TaskRequest, opts ...grpc.CallOption) (*api.ProgressResponse, error)
	CancelTask(ctx context.Context, in *api.TaskRequest, opts ...grpc.CallOption) (*api.Task, error)
	DeleteTask(ctx context.Context, in *api.DeleteTaskRequest, opts ...grpc.CallOption) (*api.DeleteTaskResponse, error)
	ExportManifest(ctx context.Context, in *api.ExportManifestRequest, opts ...grpc.CallOption) (*api.ExportManifestResponse, error)
	DownloadLinks(ctx context.Context, in *api.DownloadLinksRequest, opts ...grpc.CallOption) (*api.DownloadLinksResponse, error)
	RetryFile(ctx context.Context, in *api.RetryFileRequest, opts ...grpc.CallOption) (*api.File, error)
	ArchiveTask(ctx context.Context, in *api.ArchiveTaskRequest, opts ...grpc.CallOption) (*api.ArchiveTaskResponse, error)
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      uploadAPI

	mu          sync.Mutex
	accessToken string
	mint        TokenSource
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	err := invoker(withAccessToken(ctx, s.token()), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if s.mint == nil {
		return err
	}

	fresh, mintErr := s.mint()
	if mintErr != nil {
		return fmt.Errorf("renew token: %w", mintErr)
	}
	s.mu.Lock()
	s.accessToken = fresh
	s.mu.Unlock()

	return invoker(withAccessToken(ctx, fresh), method, req, reply, cc, opts...)
}

// NewUploadClient connects to endpointURL. When accessToken is empty and
// mint is set, the first token is minted right away.
func NewUploadClient(endpointURL, accessToken string, mint TokenSource) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, accessToken: accessToken, mint: mint}
	if c.accessToken == "" && mint != nil {
		t, err := mint()
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
		c.accessToken = t
	}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = api.NewUploadServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("rpc error: %w", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.NotFound:
		return common.ErrorNotFound
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrValidation, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", common.ErrInvalidTransition, st.Message())
	case codes.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, &api.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Submit(ctx context.Context, manifest []byte, hold bool) (*api.Task, error) {
	t, err := s.client.CreateTask(ctx, &api.CreateTaskRequest{Manifest: manifest, Hold: hold})
	if err != nil {
		return nil, s.mapError(err)
	}
	return t, nil
}

func (s *GRPCClient) GetTask(ctx context.Context, taskID string) (*api.Task, error) {
	t, err := s.client.GetTask(ctx, &api.TaskRequest{TaskID: taskID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return t, nil
}

func (s *GRPCClient) ListTasks(ctx context.Context, status string, offset, limit int) ([]api.Task, error) {
	resp, err := s.client.ListTasks(ctx, &api.ListTasksRequest{Status: status, Offset: offset, Limit: limit})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Tasks, nil
}

func (s *GRPCClient) ListFiles(ctx context.Context, taskID string) ([]api.File, error) {
	resp, err := s.client.ListFiles(ctx, &api.TaskRequest{TaskID: taskID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Files, nil
}

func (s *GRPCClient) CheckDuplicates(ctx context.Context, taskID string, fingerprints []string) (*api.CheckDuplicatesResponse, error) {
	resp, err := s.client.CheckDuplicates(ctx, &api.CheckDuplicatesRequest{TaskID: taskID, Fingerprints: fingerprints})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) Progress(ctx context.Context, taskID string) (*api.ProgressResponse, error) {
	resp, err := s.client.GetProgress(ctx, &api.TaskRequest{TaskID: taskID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) Cancel(ctx context.Context, taskID string) (*api.Task, error) {
	t, err := s.client.CancelTask(ctx, &api.TaskRequest{TaskID: taskID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return t, nil
}

func (s *GRPCClient) Delete(ctx context.Context, taskID string, purge bool) error {
	_, err := s.client.DeleteTask(ctx, &api.DeleteTaskRequest{TaskID: taskID, Purge: purge})
	return s.mapError(err)
}

func (s *GRPCClient) ExportManifest(ctx context.Context, taskID string, allowPartial bool) ([]byte, error) {
	resp, err := s.client.ExportManifest(ctx, &api.ExportManifestRequest{TaskID: taskID, AllowPartial: allowPartial})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Manifest, nil
}

func (s *GRPCClient) DownloadLinks(ctx context.Context, taskID string, ttlSeconds int64) ([]api.DownloadLink, error) {
	resp, err := s.client.DownloadLinks(ctx, &api.DownloadLinksRequest{TaskID: taskID, TTLSeconds: ttlSeconds})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Links, nil
}

func (s *GRPCClient) RetryFile(ctx context.Context, taskID, fileID string) (*api.File, error) {
	f, err := s.client.RetryFile(ctx, &api.RetryFileRequest{TaskID: taskID, FileID: fileID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return f, nil
}

func (s *GRPCClient) Archive(ctx context.Context, taskID string, ttlSeconds int64) (*api.ArchiveTaskResponse, error) {
	a, err := s.client.ArchiveTask(ctx, &api.ArchiveTaskRequest{TaskID: taskID, TTLSeconds: ttlSeconds})
	if err != nil {
		return nil, s.mapError(err)
	}
	return a, nil
}

// IsTerminal reports whether a task status is final.
func IsTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}
