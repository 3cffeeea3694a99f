// Package services provides cross-cutting helpers shared by workflow
// components: context annotation for structured logging and the error
// taxonomy used to classify stage failures.
package services
