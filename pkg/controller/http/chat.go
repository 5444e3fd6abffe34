package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/usecase"
)

// maxChatBody bounds the JSON body of a chat request
const maxChatBody = 1 << 20

type chatResponse struct {
	Answer         string         `json:"answer"`
	Sources        []model.Source `json:"sources"`
	Model          string         `json:"model,omitempty"`
	ProcessingTime float64        `json:"processing_time"`
}

func chatHandler(uc *usecase.ChatUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in usecase.ChatInput
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&in); err != nil {
			handleError(w, r, goerr.Wrap(errors.Join(usecase.ErrInvalidInput, err), "failed to decode chat request"))
			return
		}

		answer, err := uc.Answer(r.Context(), callerOf(r), in)
		if err != nil {
			handleError(w, r, err)
			return
		}

		sources := answer.Sources
		if sources == nil {
			sources = []model.Source{}
		}
		writeJSON(r.Context(), w, http.StatusOK, chatResponse{
			Answer:         answer.Text,
			Sources:        sources,
			Model:          answer.Model,
			ProcessingTime: answer.Elapsed.Seconds(),
		})
	}
}
