package stats

/*
This file defines all the metrics being collected.   As new metrics are added please follow this pattern.
*/

const (
	/****************************** Probe metrics ****************************************/
	/*
		the number of nodes that accepted a session within the probe timeout
	*/
	PlannerProbeOkCounter = "probe_ok"

	/*
		the number of nodes dropped because the dial failed or the probe timeout fired
	*/
	PlannerProbeUnreachableCounter = "probe_unreachable"

	/*
		the number of reachable nodes after probing, before capability filtering
	*/
	PlannerReachableNodesGauge = "reachable_nodes"

	/*
		the amount of time the whole probing phase took
	*/
	PlannerProbeLatency_ms = "probe_ms"

	/****************************** Capability metrics ***********************************/
	/*
		the number of capability queries answered with a valid report
	*/
	PlannerCapabilityOkCounter = "capability_ok"

	/*
		the number of capability queries that errored, timed out, or returned a malformed report
	*/
	PlannerCapabilityFailedCounter = "capability_failed"

	/*
		the amount of time the capability fan-out took (bounded by the slowest reply)
	*/
	PlannerCapabilityLatency_ms = "capability_ms"

	/****************************** Sync metrics *****************************************/
	/*
		the amount of time the bulk rsync run took
	*/
	PlannerSyncLatency_ms = "sync_ms"

	/****************************** Plan metrics *****************************************/
	/*
		the total number of workers in the emitted topology
	*/
	PlannerScheduledWorkersGauge = "scheduled_workers"

	/*
		the amount of time from dedupe through allocation
	*/
	PlannerPlanLatency_ms = "plan_ms"
)
