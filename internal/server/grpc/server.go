// Package grpc exposes the upload engine over gRPC. Messages are JSON encoded
// with api.Codec and routed by the hand-declared api.ServiceDesc.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/api"
	"github.com/dmitrijs2005/gophupload/internal/logging"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"github.com/dmitrijs2005/gophupload/internal/server/services"
	"google.golang.org/grpc"
)

// UploadService is the part of services.UploadService the handlers use.
type UploadService interface {
	CreateTask(ctx context.Context, userID string, raw []byte) (*models.UploadTask, error)
	Start(taskID string) bool
	GetTask(ctx context.Context, userID, taskID string) (*models.UploadTask, error)
	ListTasks(ctx context.Context, userID string, status models.TaskStatus, offset, limit int) ([]*models.UploadTask, error)
	ListFiles(ctx context.Context, taskID string) ([]*models.TaskFile, error)
	CheckDuplicates(ctx context.Context, taskID string, fingerprints []string) (*services.DedupReport, error)
	Progress(ctx context.Context, taskID string) (*services.TaskProgress, error)
	Cancel(ctx context.Context, taskID string) (*models.UploadTask, error)
	DeleteTask(ctx context.Context, taskID string, purge bool) error
	ExportManifest(ctx context.Context, taskID string, allowPartial bool) ([]byte, error)
	DownloadLinks(ctx context.Context, taskID string, ttl time.Duration) ([]services.DownloadLink, error)
	RetryFile(ctx context.Context, taskID, fileID string) (*models.TaskFile, error)
	ArchiveTask(ctx context.Context, taskID string, ttl time.Duration) (*services.Archive, error)
}

type GRPCServer struct {
	address   string
	uploads   UploadService
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, us UploadService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		uploads:   us,
		jwtSecret: []byte(secretKey),
	}
}

// newServer builds the grpc.Server with the JSON codec and interceptors.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ForceServerCodec(api.Codec{}),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor),
	)
	api.RegisterUploadServiceServer(srv, s)
	return srv
}

// Run serves until ctx is done, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve is Run on an existing listener.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}
