package openai

import (
	"log/slog"
	"net/http"

	"speechway.dev/pkg/metadata"
	"speechway.dev/pkg/utils"
)

// ResponseHandler writes audio responses as-is and everything else as JSON,
// recording the outcome on the request metadata for the access log.
func ResponseHandler() func(resp any, err error, writer http.ResponseWriter, request *http.Request) {
	return func(resp any, err error, writer http.ResponseWriter, request *http.Request) {
		rMeta := metadata.RequestMetadataFromCtx(request.Context())

		if err == nil {
			if resp == nil {
				rMeta.StatusCode = http.StatusNoContent
				writer.WriteHeader(http.StatusNoContent)

				return
			}

			if binaryResp, ok := resp.(interface {
				WriteTo(writer http.ResponseWriter) error
			}); ok {
				if statuser, ok := resp.(interface{ GetStatus() int }); ok {
					rMeta.StatusCode = statuser.GetStatus()
				} else {
					rMeta.StatusCode = http.StatusOK
				}

				if err := binaryResp.WriteTo(writer); err != nil {
					slog.Error("failed to write binary response", "error", err)
				}

				return
			}

			rMeta.StatusCode = http.StatusOK
			utils.WriteJSONForHTTP(http.StatusOK, resp, writer)

			return
		}

		openAIError := NewErrorFromLLMError(err)
		if openAIError.FromUpstream {
			slog.Error("upstream returned an error",
				"status", openAIError.Status,
				"code", openAIError.ErrorBody.Code,
				"message", openAIError.ErrorBody.Message,
				"type", openAIError.ErrorBody.Type,
			)
		} else if openAIError.Status >= http.StatusInternalServerError {
			slog.Error("failed to handle request", "error", openAIError, "cause", openAIError.Cause, "source_error", err.Error())
		}

		rMeta.StatusCode = openAIError.Status
		rMeta.ErrorMessage = openAIError.Error()

		utils.WriteJSONForHTTP(openAIError.Status, openAIError, writer)
	}
}
