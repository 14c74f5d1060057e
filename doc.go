// # Go Client Package for the Gemini Live API
//
// This repository provides a Go package for realtime, two-way voice conversations with a Gemini Live model. The root package holds the session controller: it captures microphone audio as 16-bit PCM, streams it over a WebSocket, schedules the model's spoken replies for gapless playback and answers the model's tool calls. The relay package is the server side that keeps the provider credential off the client; the token package issues single-use credentials for clients that connect directly.
package live
