// Package api exposes TradePilot over HTTP: synchronous signal extraction,
// trade execution, quotes and exchange orders, plus the asynchronous job
// endpoints backed by the task package.
package api
