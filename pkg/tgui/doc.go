// Package tgui provides small Telegram UI helpers:
//   - inline keyboard builders
//   - callback data helpers (scope:action:payload)
//   - safe HTML rendering for ParseMode="HTML"
package tgui
