package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           nexusd API
// @version         1.0
// @description     OpenAI-compatible HTTP gateway for local LLM backends.
//
// @contact.name   nexusd maintainers
// @contact.url    https://github.com/your-org/nexusd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
