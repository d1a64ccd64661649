package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
	"github.com/secmon-lab/vigil/pkg/utils/safe"
	"github.com/slack-go/slack/slackevents"
)

func (x *Server) handleSlackEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to read request body"))
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to parse slack event",
			goerr.T(errs.TagInvalidRequest)))
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			handleError(w, r, goerr.Wrap(err, "failed to unmarshal slack challenge",
				goerr.T(errs.TagInvalidRequest)))
			return
		}
		w.Header().Set("Content-Type", "text")
		safe.Write(r.Context(), w, []byte(challenge.Challenge))

	case slackevents.CallbackEvent:
		x.slackCtrl.HandleEvent(r.Context(), event)
		w.WriteHeader(http.StatusOK)

	default:
		logging.From(r.Context()).Warn("unknown slack event type", "type", event.Type)
		w.WriteHeader(http.StatusOK)
	}
}
