package trackers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"

	"spool/internal/logging"
	"spool/internal/services"
)

// Upload validates the context, builds the multipart body field by field,
// and posts it through the rate limiter, the retry wrapper, and (for
// Cloudflare trackers) the circuit breaker. Validation failures are terminal
// and happen before any network I/O.
func (a *Adapter) Upload(ctx context.Context, uploadCtx map[string]any) (*UploadResult, error) {
	endpoint, ok := a.schema.Endpoints["upload"]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, a.Slug(), "upload", "no upload endpoint in schema", nil)
	}
	a.sanitizeContextName(uploadCtx)
	if err := a.schema.ValidateContext(uploadCtx); err != nil {
		return nil, err
	}
	body, contentType, err := a.buildUploadBody(uploadCtx)
	if err != nil {
		return nil, err
	}

	if err := a.waitLimiter(ctx, a.uploadKey()); err != nil {
		return nil, err
	}

	var (
		status  int
		payload []byte
	)
	err = services.Retry(ctx, "tracker upload", func() error {
		reply, doErr := a.do(ctx, endpoint, nil, &requestBody{
			reader:      bytes.NewReader(body),
			contentType: contentType,
		}, a.uploadTimeout)
		if doErr != nil {
			return doErr
		}
		status, payload = reply.StatusCode, reply.Body
		if statusErr := services.ErrorFromStatus(a.Slug(), "upload", reply.StatusCode, reply.retryAfter()); statusErr != nil && services.IsRetryable(statusErr) {
			return statusErr
		}
		return nil
	}, services.WithRetryLogger(a.logger))
	if err != nil {
		return nil, err
	}

	result, err := a.parseUploadResponse(status, payload)
	if err != nil {
		return nil, err
	}
	a.logger.Info("upload accepted",
		logging.String("torrent_id", result.TorrentID),
		logging.String("torrent_url", result.TorrentURL),
	)
	return result, nil
}

// sanitizeContextName applies the schema's sanitize pipeline to the release
// name before validation sees it.
func (a *Adapter) sanitizeContextName(uploadCtx map[string]any) {
	if len(a.schema.Sanitize) == 0 {
		return
	}
	if name, ok := uploadCtx["release_name"].(string); ok && name != "" {
		uploadCtx["release_name"] = a.schema.SanitizeName(name)
	}
}

// buildUploadBody walks upload.fields in schema order and emits one
// multipart body. A field of type repeated contributes one part per element
// under the same name; this wire shape is contract-bearing, a JSON array is
// wrong for the trackers that declare it.
func (a *Adapter) buildUploadBody(uploadCtx map[string]any) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for i := range a.schema.Upload.Fields {
		field := &a.schema.Upload.Fields[i]
		value, found := ResolvePath(uploadCtx, field.Source)
		if !found || value == nil {
			if field.Default != nil {
				value, found = field.Default, true
			}
		}
		if !found || value == nil {
			if field.Required {
				return nil, "", services.Wrap(services.ErrValidation, a.Slug(), "upload",
					fmt.Sprintf("required field %q missing from context (source %q)", field.Name, field.Source), nil)
			}
			continue
		}
		if err := a.writeField(writer, field, value, uploadCtx); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", services.Wrap(services.ErrInternalInvariant, a.Slug(), "upload", "finalize multipart body", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func (a *Adapter) writeField(writer *multipart.Writer, field *FieldSpec, value any, uploadCtx map[string]any) error {
	switch field.Type {
	case FieldFile:
		return a.writeFilePart(writer, field, value, uploadCtx)
	case FieldRepeated:
		for _, element := range asList(value) {
			if err := writer.WriteField(field.Name, renderScalar(element)); err != nil {
				return services.Wrap(services.ErrInternalInvariant, a.Slug(), "upload", field.Name, err)
			}
		}
		return nil
	case FieldJSON:
		encoded, err := json.Marshal(value)
		if err != nil {
			return services.Wrap(services.ErrValidation, a.Slug(), "upload",
				fmt.Sprintf("field %q not JSON-serializable", field.Name), err)
		}
		return writer.WriteField(field.Name, string(encoded))
	case FieldBoolean:
		rendered := "0"
		if truthy(value) {
			rendered = "1"
		}
		return writer.WriteField(field.Name, rendered)
	default: // string, number
		return writer.WriteField(field.Name, renderScalar(value))
	}
}

func (a *Adapter) writeFilePart(writer *multipart.Writer, field *FieldSpec, value any, uploadCtx map[string]any) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		raw, err := os.ReadFile(v)
		if err != nil {
			return services.Wrap(services.ErrValidation, a.Slug(), "upload",
				fmt.Sprintf("file field %q: read %s", field.Name, v), err)
		}
		data = raw
	default:
		return services.Wrap(services.ErrValidation, a.Slug(), "upload",
			fmt.Sprintf("file field %q needs bytes or a path", field.Name), nil)
	}

	filename := field.Filename
	if filename == "" {
		filename = "{release_name}.torrent"
	}
	releaseName, _ := uploadCtx["release_name"].(string)
	filename = interpolate(filename, map[string]string{"release_name": releaseName})

	contentType := field.ContentType
	if contentType == "" {
		contentType = "application/x-bittorrent"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field.Name, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return services.Wrap(services.ErrInternalInvariant, a.Slug(), "upload", field.Name, err)
	}
	_, err = part.Write(data)
	if err != nil {
		return services.Wrap(services.ErrInternalInvariant, a.Slug(), "upload", field.Name, err)
	}
	return nil
}

// asList widens a scalar into a one-element list so repeated fields accept
// both shapes.
func asList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{value}
	}
}

// parseUploadResponse applies response.upload to the tracker's answer. A
// 2xx with an undecodable body counts as success because several trackers
// answer uploads with plain text.
func (a *Adapter) parseUploadResponse(status int, payload []byte) (*UploadResult, error) {
	spec := a.schema.Response.Upload

	var decoded map[string]any
	decodeErr := json.Unmarshal(bytes.TrimSpace(payload), &decoded)

	if status >= 400 {
		message := fmt.Sprintf("HTTP %d", status)
		if decodeErr == nil {
			if errText, ok := PathString(decoded, spec.ErrorField); ok && errText != "" {
				message = fmt.Sprintf("HTTP %d: %s", status, errText)
			}
		} else if text := strings.TrimSpace(string(payload)); text != "" && len(text) < 300 {
			message = fmt.Sprintf("HTTP %d: %s", status, text)
		}
		marker := services.ErrTrackerPermanent
		if status >= 500 {
			marker = services.ErrExternalUnavailable
		}
		return nil, services.Wrap(marker, a.Slug(), "upload", message, nil)
	}

	if decodeErr != nil {
		// Plain-text 2xx: accepted, no id to extract.
		return &UploadResult{}, nil
	}

	if flag, ok := ResolvePath(decoded, spec.SuccessField); ok && !truthy(flag) {
		message := "tracker reported failure"
		if errText, found := PathString(decoded, spec.ErrorField); found && errText != "" {
			message = errText
		}
		return nil, services.Wrap(services.ErrTrackerPermanent, a.Slug(), "upload", message, nil)
	}

	result := &UploadResult{Raw: decoded}
	if id, ok := PathString(decoded, spec.TorrentIDField); ok {
		result.TorrentID = id
	}
	if result.TorrentID != "" {
		result.TorrentURL = interpolate(spec.TorrentURLTemplate, map[string]string{
			"base_url":   a.schema.Tracker.BaseURL,
			"torrent_id": result.TorrentID,
		})
	}
	return result, nil
}

// TestAuth probes authentication without mutating tracker state.
func (a *Adapter) TestAuth(ctx context.Context) TestReport {
	report := TestReport{Operation: "auth"}
	if err := a.Authenticate(ctx); err != nil {
		report.Detail = err.Error()
		return report
	}
	report.OK = true
	report.Detail = "session established"
	return report
}

// TestSearch runs the schema's default query and reports the result count.
func (a *Adapter) TestSearch(ctx context.Context) TestReport {
	report := TestReport{Operation: "search"}
	results, err := a.Search(ctx, Query{Text: a.schema.Search.DefaultQuery})
	if err != nil {
		report.Detail = err.Error()
		return report
	}
	report.OK = true
	report.Detail = fmt.Sprintf("%d result(s)", len(results))
	return report
}

// TestUpload builds and validates the multipart payload from the supplied
// context and stops before transmission.
func (a *Adapter) TestUpload(ctx context.Context, uploadCtx map[string]any) TestReport {
	report := TestReport{Operation: "upload"}
	if err := ctx.Err(); err != nil {
		report.Detail = err.Error()
		return report
	}
	a.sanitizeContextName(uploadCtx)
	if err := a.schema.ValidateContext(uploadCtx); err != nil {
		report.Detail = err.Error()
		return report
	}
	body, _, err := a.buildUploadBody(uploadCtx)
	if err != nil {
		report.Detail = err.Error()
		return report
	}
	report.OK = true
	report.Detail = fmt.Sprintf("payload valid, %d bytes (not transmitted)", len(body))
	return report
}
