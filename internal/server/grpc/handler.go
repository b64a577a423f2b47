package grpc

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophupload/internal/api"
	"github.com/dmitrijs2005/gophupload/internal/common"
	"github.com/dmitrijs2005/gophupload/internal/server/manifest"
	"github.com/dmitrijs2005/gophupload/internal/server/models"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps the error taxonomy to gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrValidation):
		return validationStatus(err)
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrQuotaOrPermission):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// validationStatus attaches the offending field as google.rpc details. A
// refused manifest also names the files[] index in the ErrorInfo metadata.
func validationStatus(err error) error {
	st := status.New(codes.InvalidArgument, err.Error())

	var ve *common.ValidationError
	if !errors.As(err, &ve) || ve.Field == "" {
		return st.Err()
	}

	violation := &errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: ve.Field, Description: ve.Reason}},
	}
	info := &errdetails.ErrorInfo{
		Reason:   "VALIDATION",
		Domain:   api.ServiceName,
		Metadata: map[string]string{"field": ve.Field},
	}
	var rej *manifest.Rejection
	if errors.As(err, &rej) && rej.Index >= 0 {
		info.Metadata["file_index"] = strconv.Itoa(rej.Index)
	}

	if detailed, derr := st.WithDetails(violation, info); derr == nil {
		st = detailed
	}
	return st.Err()
}

// ownedTask loads the task and checks it belongs to the caller.
func (s *GRPCServer) ownedTask(ctx context.Context, taskID string) (*models.UploadTask, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, common.ErrorUnauthorized
	}
	if taskID == "" {
		return nil, common.NewValidationError("task_id", "is required")
	}
	return s.uploads.GetTask(ctx, userID, taskID)
}

func (s *GRPCServer) Ping(ctx context.Context, req *api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) CreateTask(ctx context.Context, req *api.CreateTaskRequest) (*api.Task, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, toStatus(common.ErrorUnauthorized)
	}

	task, err := s.uploads.CreateTask(ctx, userID, req.Manifest)
	if err != nil {
		return nil, toStatus(err)
	}
	if !req.Hold {
		s.uploads.Start(task.ID)
	}

	s.logger.Info(ctx, "Task submitted", "task_id", task.ID, "user_id", userID, "hold", req.Hold)
	return taskToAPI(task), nil
}

func (s *GRPCServer) GetTask(ctx context.Context, req *api.TaskRequest) (*api.Task, error) {
	task, err := s.ownedTask(ctx, req.TaskID)
	if err != nil {
		return nil, toStatus(err)
	}
	return taskToAPI(task), nil
}

func (s *GRPCServer) ListTasks(ctx context.Context, req *api.ListTasksRequest) (*api.ListTasksResponse, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, toStatus(common.ErrorUnauthorized)
	}

	tasks, err := s.uploads.ListTasks(ctx, userID, models.TaskStatus(req.Status), req.Offset, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &api.ListTasksResponse{Tasks: make([]api.Task, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, *taskToAPI(t))
	}
	return resp, nil
}

func (s *GRPCServer) ListFiles(ctx context.Context, req *api.TaskRequest) (*api.ListFilesResponse, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}

	files, err := s.uploads.ListFiles(ctx, req.TaskID)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &api.ListFilesResponse{Files: make([]api.File, 0, len(files))}
	for _, f := range files {
		resp.Files = append(resp.Files, fileToAPI(f))
	}
	return resp, nil
}

func (s *GRPCServer) CheckDuplicates(ctx context.Context, req *api.CheckDuplicatesRequest) (*api.CheckDuplicatesResponse, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}

	rep, err := s.uploads.CheckDuplicates(ctx, req.TaskID, req.Fingerprints)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &api.CheckDuplicatesResponse{
		Existing:    make([]api.ExistingObject, 0, len(rep.Existing)),
		MarkedFiles: make([]string, 0, len(rep.Marked)),
		SavedBytes:  rep.SavedBytes,
	}
	for fp, obj := range rep.Existing {
		resp.Existing = append(resp.Existing, api.ExistingObject{
			Fingerprint: fp,
			ObjectID:    obj.ID,
			StorageKey:  obj.StorageKey,
			StorageURL:  obj.StorageURL,
			Size:        obj.Size,
		})
	}
	sortExisting(resp.Existing)
	for _, m := range rep.Marked {
		resp.MarkedFiles = append(resp.MarkedFiles, m.FileID)
	}
	return resp, nil
}

func (s *GRPCServer) GetProgress(ctx context.Context, req *api.TaskRequest) (*api.ProgressResponse, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}

	p, err := s.uploads.Progress(ctx, req.TaskID)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &api.ProgressResponse{
		TaskID:        p.TaskID,
		Status:        string(p.Status),
		TotalFiles:    p.TotalFiles,
		UploadedFiles: p.UploadedFiles,
		TotalSize:     p.TotalSize,
		UploadedSize:  p.UploadedSize,
		Percent:       p.Percent,
		ByStatus:      make(map[string]int, len(p.ByStatus)),
	}
	for st, n := range p.ByStatus {
		resp.ByStatus[string(st)] = n
	}
	return resp, nil
}

func (s *GRPCServer) CancelTask(ctx context.Context, req *api.TaskRequest) (*api.Task, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}

	task, err := s.uploads.Cancel(ctx, req.TaskID)
	if err != nil {
		return nil, toStatus(err)
	}
	return taskToAPI(task), nil
}

func (s *GRPCServer) DeleteTask(ctx context.Context, req *api.DeleteTaskRequest) (*api.DeleteTaskResponse, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}

	if err := s.uploads.DeleteTask(ctx, req.TaskID, req.Purge); err != nil {
		return nil, toStatus(err)
	}
	return &api.DeleteTaskResponse{}, nil
}

func (s *GRPCServer) ExportManifest(ctx context.Context, req *api.ExportManifestRequest) (*api.ExportManifestResponse, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}

	raw, err := s.uploads.ExportManifest(ctx, req.TaskID, req.AllowPartial)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ExportManifestResponse{Manifest: raw}, nil
}

func (s *GRPCServer) DownloadLinks(ctx context.Context, req *api.DownloadLinksRequest) (*api.DownloadLinksResponse, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}
	if req.TTLSeconds < 0 {
		return nil, toStatus(common.NewValidationError("ttl_seconds", "must not be negative"))
	}

	links, err := s.uploads.DownloadLinks(ctx, req.TaskID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &api.DownloadLinksResponse{Links: make([]api.DownloadLink, 0, len(links))}
	for _, l := range links {
		resp.Links = append(resp.Links, api.DownloadLink{
			FileID:      l.FileID,
			LocalPath:   l.LocalPath,
			VirtualPath: l.VirtualPath,
			StorageKey:  l.StorageKey,
			URL:         l.URL,
			ExpiresAt:   l.ExpiresAt,
		})
	}
	return resp, nil
}

func (s *GRPCServer) RetryFile(ctx context.Context, req *api.RetryFileRequest) (*api.File, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}
	if req.FileID == "" {
		return nil, toStatus(common.NewValidationError("file_id", "is required"))
	}

	f, err := s.uploads.RetryFile(ctx, req.TaskID, req.FileID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := fileToAPI(f)
	return &out, nil
}

func (s *GRPCServer) ArchiveTask(ctx context.Context, req *api.ArchiveTaskRequest) (*api.ArchiveTaskResponse, error) {
	if _, err := s.ownedTask(ctx, req.TaskID); err != nil {
		return nil, toStatus(err)
	}
	if req.TTLSeconds < 0 {
		return nil, toStatus(common.NewValidationError("ttl_seconds", "must not be negative"))
	}

	a, err := s.uploads.ArchiveTask(ctx, req.TaskID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ArchiveTaskResponse{
		StorageKey: a.StorageKey,
		URL:        a.URL,
		ExpiresAt:  a.ExpiresAt,
		Files:      a.Files,
		Size:       a.Size,
	}, nil
}
