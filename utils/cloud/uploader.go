package cloud

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"haruki-cri-extractor/config"
	harukiLogger "haruki-cri-extractor/utils/logger"
	"haruki-cri-extractor/utils/s3client"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var logger = harukiLogger.NewLogger("HarukiCloudStorageUploader", "INFO", nil)

// uploadFunc copies one local file to remotePath.
type uploadFunc func(ctx context.Context, filePath string, remotePath string) error

func programUploader(program string, uploadArgs []string) uploadFunc {
	return func(ctx context.Context, filePath string, remotePath string) error {
		args := make([]string, len(uploadArgs))
		copy(args, uploadArgs)
		for i, arg := range args {
			if arg == "src" {
				args[i] = filePath
			} else if arg == "dst" {
				args[i] = remotePath
			}
		}
		logger.Debugf("Uploading %s to %s using command: %s %s",
			filePath, remotePath, program, strings.Join(args, " "))
		cmd := exec.CommandContext(ctx, program, args...)
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("failed to upload %s to %s using command: %s %s: %w",
				filePath, remotePath, program, strings.Join(args, " "), err)
		}
		return nil
	}
}

func s3Uploader(client *s3.Client, bucket string, prefix string) uploadFunc {
	return func(ctx context.Context, filePath string, remotePath string) error {
		f, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		key := s3client.Key(prefix, remotePath)
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", filePath, bucket, key, err)
		}
		return nil
	}
}

func uploaderFor(storage config.RemoteStorageConfig) (uploadFunc, error) {
	switch storage.Type {
	case "s3":
		if storage.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 storage %s has no bucket", storage.Base)
		}
		return s3Uploader(s3client.New(storage.S3), storage.S3.Bucket, storage.S3.Prefix), nil
	default:
		if storage.Program == "" {
			return nil, fmt.Errorf("storage %s has no upload program", storage.Base)
		}
		return programUploader(storage.Program, storage.Args), nil
	}
}

// UploadToStorage uploads exportedList to one storage with at most
// concurrency uploads in flight. Remote paths keep the layout relative to
// extractedSavePath under storage.Base.
func UploadToStorage(
	ctx context.Context,
	exportedList []string,
	extractedSavePath string,
	storage config.RemoteStorageConfig,
	concurrency int,
	removeLocalAfterUpload bool,
) error {
	upload, err := uploaderFor(storage)
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	semaphore := make(chan struct{}, concurrency)
	errChan := make(chan error, len(exportedList))
	var wg sync.WaitGroup
	uploadFile := func(filePath string) {
		defer wg.Done()
		semaphore <- struct{}{}
		defer func() { <-semaphore }()
		relativePath, err := filepath.Rel(extractedSavePath, filePath)
		if err != nil {
			errChan <- fmt.Errorf("failed to get relative path for %s: %w", filePath, err)
			return
		}
		remotePath := path.Join(filepath.ToSlash(storage.Base), filepath.ToSlash(relativePath))
		if err := upload(ctx, filePath, remotePath); err != nil {
			logger.Errorf("Failed to upload %s to %s", filePath, remotePath)
			errChan <- err
			return
		}
		logger.Infof("Successfully uploaded %s to %s", filePath, remotePath)
		if removeLocalAfterUpload {
			if err := os.Remove(filePath); err != nil {
				logger.Warnf("Failed to delete local file %s after upload: %v", filePath, err)
				errChan <- fmt.Errorf("uploaded but failed to delete local file %s: %w", filePath, err)
			} else {
				logger.Debugf("Deleted local file %s after successful upload", filePath)
			}
		}
	}
	for _, filePath := range exportedList {
		wg.Add(1)
		go uploadFile(filePath)
	}
	wg.Wait()
	close(errChan)
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d uploads failed: %w", len(errs), errs[0])
	}
	return nil
}

// UploadToAllStorages uploads to every configured storage in turn. Local
// files are only removed after the last storage has them.
func UploadToAllStorages(
	ctx context.Context,
	storages []config.RemoteStorageConfig,
	exportedList []string,
	extractedSavePath string,
	concurrency int,
	removeLocal bool,
) error {
	if len(storages) == 0 {
		logger.Infof("No remote storages configured, skipping upload")
		return nil
	}

	for i, storage := range storages {
		logger.Infof("Uploading to remote storage: %s (type: %s)", storage.Base, storage.Type)
		last := i == len(storages)-1
		err := UploadToStorage(
			ctx,
			exportedList,
			extractedSavePath,
			storage,
			concurrency,
			removeLocal && last,
		)
		if err != nil {
			return fmt.Errorf("failed to upload to storage %s: %w", storage.Base, err)
		}
		logger.Infof("Successfully uploaded all files to storage: %s", storage.Base)
	}

	logger.Infof("Successfully uploaded to all configured remote storages")
	return nil
}
