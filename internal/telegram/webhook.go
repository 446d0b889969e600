// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"go.astrophena.name/wallbot/internal/logger"
	"go.astrophena.name/wallbot/internal/web"
)

// Webhook returns an [http.Handler] that receives updates pushed by
// Telegram. Each request must carry the X-Telegram-Bot-Api-Secret-Token
// header matching secret; requests that don't are rejected with HTTP 401.
//
// handle is invoked synchronously for each update, so Telegram retries
// updates whose handling failed with a non-2xx status.
func Webhook(secret string, logf logger.Logf, handle func(ctx context.Context, u Update) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			web.RespondError(logf, w, web.ErrUnauthorized)
			return
		}

		var u Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			web.RespondError(logf, w, fmt.Errorf("%w: %v", web.ErrBadRequest, err))
			return
		}

		if err := handle(r.Context(), u); err != nil {
			web.RespondError(logf, w, err)
			return
		}

		var res struct {
			Status string `json:"status"`
		}
		res.Status = "success"
		web.RespondJSON(w, res)
	})
}
