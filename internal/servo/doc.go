// Package servo implements the periodic servo state machine shared by every
// process of the framework:
//
//	WaitClock -> DrainMailbox -> ReadUpstream -> Compute -> PublishDownstream -> TriggerNext
//
// A Loop is either self-clocked (it sleeps until absolute deadlines on an
// rt.Backend and paces the rest of the system) or externally clocked (it
// blocks on its own pulse semaphore). FanOut gates downstream pulses by
// integer ratios of the base tick, and Watchdog implements the degraded-mode
// policy for lost command streams.
package servo
