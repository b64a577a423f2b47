package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "gophupload.v1.UploadService"

// Method names.
const (
	MethodPing            = "Ping"
	MethodCreateTask      = "CreateTask"
	MethodGetTask         = "GetTask"
	MethodListTasks       = "ListTasks"
	MethodListFiles       = "ListFiles"
	MethodCheckDuplicates = "CheckDuplicates"
	MethodGetProgress     = "GetProgress"
	MethodCancelTask      = "CancelTask"
	MethodDeleteTask      = "DeleteTask"
	MethodExportManifest  = "ExportManifest"
	MethodDownloadLinks   = "DownloadLinks"
	MethodRetryFile       = "RetryFile"
	MethodArchiveTask     = "ArchiveTask"
)

// FullMethod returns the gRPC path of a method, e.g. "/gophupload.v1.UploadService/Ping".
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// UploadServiceServer is implemented by the server.
type UploadServiceServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	CreateTask(context.Context, *CreateTaskRequest) (*Task, error)
	GetTask(context.Context, *TaskRequest) (*Task, error)
	ListTasks(context.Context, *ListTasksRequest) (*ListTasksResponse, error)
	ListFiles(context.Context, *TaskRequest) (*ListFilesResponse, error)
	CheckDuplicates(context.Context, *CheckDuplicatesRequest) (*CheckDuplicatesResponse, error)
	GetProgress(context.Context, *TaskRequest) (*ProgressResponse, error)
	CancelTask(context.Context, *TaskRequest) (*Task, error)
	DeleteTask(context.Context, *DeleteTaskRequest) (*DeleteTaskResponse, error)
	ExportManifest(context.Context, *ExportManifestRequest) (*ExportManifestResponse, error)
	DownloadLinks(context.Context, *DownloadLinksRequest) (*DownloadLinksResponse, error)
	RetryFile(context.Context, *RetryFileRequest) (*File, error)
	ArchiveTask(context.Context, *ArchiveTaskRequest) (*ArchiveTaskResponse, error)
}

func unary[Req, Resp any](name string, call func(UploadServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(UploadServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(UploadServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes UploadService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UploadServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, UploadServiceServer.Ping),
		unary(MethodCreateTask, UploadServiceServer.CreateTask),
		unary(MethodGetTask, UploadServiceServer.GetTask),
		unary(MethodListTasks, UploadServiceServer.ListTasks),
		unary(MethodListFiles, UploadServiceServer.ListFiles),
		unary(MethodCheckDuplicates, UploadServiceServer.CheckDuplicates),
		unary(MethodGetProgress, UploadServiceServer.GetProgress),
		unary(MethodCancelTask, UploadServiceServer.CancelTask),
		unary(MethodDeleteTask, UploadServiceServer.DeleteTask),
		unary(MethodExportManifest, UploadServiceServer.ExportManifest),
		unary(MethodDownloadLinks, UploadServiceServer.DownloadLinks),
		unary(MethodRetryFile, UploadServiceServer.RetryFile),
		unary(MethodArchiveTask, UploadServiceServer.ArchiveTask),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gophupload/v1/upload.proto",
}

func RegisterUploadServiceServer(s grpc.ServiceRegistrar, srv UploadServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// UploadServiceClient calls UploadService over a connection whose calls use
// Codec.
type UploadServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewUploadServiceClient(cc grpc.ClientConnInterface) *UploadServiceClient {
	return &UploadServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *UploadServiceClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, MethodPing, in, opts)
}

func (c *UploadServiceClient) CreateTask(ctx context.Context, in *CreateTaskRequest, opts ...grpc.CallOption) (*Task, error) {
	return invoke[Task](ctx, c.cc, MethodCreateTask, in, opts)
}

func (c *UploadServiceClient) GetTask(ctx context.Context, in *TaskRequest, opts ...grpc.CallOption) (*Task, error) {
	return invoke[Task](ctx, c.cc, MethodGetTask, in, opts)
}

func (c *UploadServiceClient) ListTasks(ctx context.Context, in *ListTasksRequest, opts ...grpc.CallOption) (*ListTasksResponse, error) {
	return invoke[ListTasksResponse](ctx, c.cc, MethodListTasks, in, opts)
}

func (c *UploadServiceClient) ListFiles(ctx context.Context, in *TaskRequest, opts ...grpc.CallOption) (*ListFilesResponse, error) {
	return invoke[ListFilesResponse](ctx, c.cc, MethodListFiles, in, opts)
}

func (c *UploadServiceClient) CheckDuplicates(ctx context.Context, in *CheckDuplicatesRequest, opts ...grpc.CallOption) (*CheckDuplicatesResponse, error) {
	return invoke[CheckDuplicatesResponse](ctx, c.cc, MethodCheckDuplicates, in, opts)
}

func (c *UploadServiceClient) GetProgress(ctx context.Context, in *TaskRequest, opts ...grpc.CallOption) (*ProgressResponse, error) {
	return invoke[ProgressResponse](ctx, c.cc, MethodGetProgress, in, opts)
}

func (c *UploadServiceClient) CancelTask(ctx context.Context, in *TaskRequest, opts ...grpc.CallOption) (*Task, error) {
	return invoke[Task](ctx, c.cc, MethodCancelTask, in, opts)
}

func (c *UploadServiceClient) DeleteTask(ctx context.Context, in *DeleteTaskRequest, opts ...grpc.CallOption) (*DeleteTaskResponse, error) {
	return invoke[DeleteTaskResponse](ctx, c.cc, MethodDeleteTask, in, opts)
}

func (c *UploadServiceClient) ExportManifest(ctx context.Context, in *ExportManifestRequest, opts ...grpc.CallOption) (*ExportManifestResponse, error) {
	return invoke[ExportManifestResponse](ctx, c.cc, MethodExportManifest, in, opts)
}

func (c *UploadServiceClient) DownloadLinks(ctx context.Context, in *DownloadLinksRequest, opts ...grpc.CallOption) (*DownloadLinksResponse, error) {
	return invoke[DownloadLinksResponse](ctx, c.cc, MethodDownloadLinks, in, opts)
}

func (c *UploadServiceClient) RetryFile(ctx context.Context, in *RetryFileRequest, opts ...grpc.CallOption) (*File, error) {
	return invoke[File](ctx, c.cc, MethodRetryFile, in, opts)
}

func (c *UploadServiceClient) ArchiveTask(ctx context.Context, in *ArchiveTaskRequest, opts ...grpc.CallOption) (*ArchiveTaskResponse, error) {
	return invoke[ArchiveTaskResponse](ctx, c.cc, MethodArchiveTask, in, opts)
}
